// Package codec converts between host values and the PostgreSQL binary wire
// format. Encode and Decode are pure: they touch no connection state and are
// safe to call from any goroutine.
package codec

import (
	"fmt"
	"net"
	"reflect"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Kind discriminates the Value union.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt2
	KindInt4
	KindInt8
	KindFloat4
	KindFloat8
	KindText
	KindVarChar
	KindBytea
	KindUUID
	KindMacAddr6
	KindMacAddr8
	KindJSON
	KindJSONB
	KindArray
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt2:
		return "int2"
	case KindInt4:
		return "int4"
	case KindInt8:
		return "int8"
	case KindFloat4:
		return "float4"
	case KindFloat8:
		return "float8"
	case KindText:
		return "text"
	case KindVarChar:
		return "varchar"
	case KindBytea:
		return "bytea"
	case KindUUID:
		return "uuid"
	case KindMacAddr6:
		return "macaddr"
	case KindMacAddr8:
		return "macaddr8"
	case KindJSON:
		return "json"
	case KindJSONB:
		return "jsonb"
	case KindArray:
		return "array"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Value is a decoded PostgreSQL value together with the metadata needed to
// re-encode it for a parameterized query. The zero Value is a NULL of unknown
// OID.
type Value struct {
	kind Kind
	oid  uint32

	b     bool
	i     int64
	f     float64
	s     string
	raw   []byte
	u     uuid.UUID
	hw    net.HardwareAddr
	doc   any
	elems []Value
}

// Kind returns the union discriminant.
func (v Value) Kind() Kind { return v.kind }

// OID returns the backend type identifier the value encodes as.
func (v Value) OID() uint32 { return v.oid }

// IsNull reports whether the value is a SQL NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() bool                     { return v.b }
func (v Value) Int() int64                     { return v.i }
func (v Value) Float() float64                 { return v.f }
func (v Value) Str() string                    { return v.s }
func (v Value) Bytes() []byte                  { return v.raw }
func (v Value) UUID() uuid.UUID                { return v.u }
func (v Value) HardwareAddr() net.HardwareAddr { return v.hw }

// Document returns the decoded JSON document for JSON/JSONB values.
func (v Value) Document() any { return v.doc }

// Elements returns the element values of an array.
func (v Value) Elements() []Value { return v.elems }

// Null builds a SQL NULL carrying the given OID.
func Null(oid uint32) Value { return Value{kind: KindNull, oid: oid} }

// Bool builds a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, oid: pgtype.BoolOID, b: v} }

// SmallInt builds an int2. The fixed-width constructors exist to pin the wire
// OID when a bare host integer would be ambiguous.
func SmallInt(v int16) Value { return Value{kind: KindInt2, oid: pgtype.Int2OID, i: int64(v)} }

// Integer builds an int4.
func Integer(v int32) Value { return Value{kind: KindInt4, oid: pgtype.Int4OID, i: int64(v)} }

// BigInt builds an int8.
func BigInt(v int64) Value { return Value{kind: KindInt8, oid: pgtype.Int8OID, i: v} }

// Float32 builds a float4.
func Float32(v float32) Value { return Value{kind: KindFloat4, oid: pgtype.Float4OID, f: float64(v)} }

// Float64 builds a float8.
func Float64(v float64) Value { return Value{kind: KindFloat8, oid: pgtype.Float8OID, f: v} }

// Text builds a text value.
func Text(s string) Value { return Value{kind: KindText, oid: pgtype.TextOID, s: s} }

// VarChar builds a varchar value.
func VarChar(s string) Value { return Value{kind: KindVarChar, oid: pgtype.VarcharOID, s: s} }

// Bytea builds a bytea value.
func Bytea(b []byte) Value { return Value{kind: KindBytea, oid: pgtype.ByteaOID, raw: b} }

// UUID builds a uuid value.
func UUID(u uuid.UUID) Value { return Value{kind: KindUUID, oid: pgtype.UUIDOID, u: u} }

// JSON wraps a host document for json wire encoding.
func JSON(doc any) Value { return Value{kind: KindJSON, oid: pgtype.JSONOID, doc: doc} }

// JSONB wraps a host document for jsonb wire encoding.
func JSONB(doc any) Value { return Value{kind: KindJSONB, oid: pgtype.JSONBOID, doc: doc} }

// MacAddr6 builds a 6-byte macaddr value. The address length is checked at
// encode time, not here, so conversion failures carry the usual detail.
func MacAddr6(hw net.HardwareAddr) Value {
	return Value{kind: KindMacAddr6, oid: pgtype.MacaddrOID, hw: hw}
}

// MacAddr8 builds an 8-byte macaddr8 value.
func MacAddr8(hw net.HardwareAddr) Value {
	return Value{kind: KindMacAddr8, oid: pgtype.Macaddr8OID, hw: hw}
}

// Custom is the escape hatch for types the codec does not know: the caller
// supplies the OID and the already-encoded wire bytes.
func Custom(oid uint32, raw []byte) Value {
	return Value{kind: KindCustom, oid: oid, raw: raw}
}

// Array builds a one-dimensional array of the given element values. All
// elements must share elemOID; that is checked at encode time.
func Array(elemOID uint32, elems []Value) Value {
	return Value{kind: KindArray, oid: arrayOIDFor(elemOID), i: int64(elemOID), elems: elems}
}

// ElementOID returns the element OID of an array value.
func (v Value) ElementOID() uint32 { return uint32(v.i) }

// Equal reports deep equality of two values, including OID. JSON documents
// compare structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.oid != o.oid {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt2, KindInt4, KindInt8:
		return v.i == o.i
	case KindFloat4, KindFloat8:
		return v.f == o.f
	case KindText, KindVarChar:
		return v.s == o.s
	case KindBytea, KindCustom:
		return string(v.raw) == string(o.raw)
	case KindUUID:
		return v.u == o.u
	case KindMacAddr6, KindMacAddr8:
		return v.hw.String() == o.hw.String()
	case KindJSON, KindJSONB:
		return reflect.DeepEqual(v.doc, o.doc)
	case KindArray:
		if v.i != o.i || len(v.elems) != len(o.elems) {
			return false
		}
		for idx := range v.elems {
			if !v.elems[idx].Equal(o.elems[idx]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt2, KindInt4, KindInt8:
		return fmt.Sprintf("%d", v.i)
	case KindFloat4, KindFloat8:
		return fmt.Sprintf("%g", v.f)
	case KindText, KindVarChar:
		return v.s
	case KindUUID:
		return v.u.String()
	case KindMacAddr6, KindMacAddr8:
		return v.hw.String()
	default:
		return fmt.Sprintf("<%s oid=%d>", v.kind, v.oid)
	}
}

// arrayOIDFor maps an element OID to its array OID. Unknown element OIDs map
// to zero; Encode rejects those.
func arrayOIDFor(elemOID uint32) uint32 {
	switch elemOID {
	case pgtype.BoolOID:
		return pgtype.BoolArrayOID
	case pgtype.Int2OID:
		return pgtype.Int2ArrayOID
	case pgtype.Int4OID:
		return pgtype.Int4ArrayOID
	case pgtype.Int8OID:
		return pgtype.Int8ArrayOID
	case pgtype.Float4OID:
		return pgtype.Float4ArrayOID
	case pgtype.Float8OID:
		return pgtype.Float8ArrayOID
	case pgtype.TextOID:
		return pgtype.TextArrayOID
	case pgtype.VarcharOID:
		return pgtype.VarcharArrayOID
	case pgtype.ByteaOID:
		return pgtype.ByteaArrayOID
	case pgtype.UUIDOID:
		return pgtype.UUIDArrayOID
	case pgtype.JSONOID:
		return pgtype.JSONArrayOID
	case pgtype.JSONBOID:
		return pgtype.JSONBArrayOID
	case pgtype.MacaddrOID:
		return pgtype.MacaddrArrayOID
	default:
		return 0
	}
}

// elementOIDFor is the inverse of arrayOIDFor.
func elementOIDFor(arrayOID uint32) (uint32, bool) {
	switch arrayOID {
	case pgtype.BoolArrayOID:
		return pgtype.BoolOID, true
	case pgtype.Int2ArrayOID:
		return pgtype.Int2OID, true
	case pgtype.Int4ArrayOID:
		return pgtype.Int4OID, true
	case pgtype.Int8ArrayOID:
		return pgtype.Int8OID, true
	case pgtype.Float4ArrayOID:
		return pgtype.Float4OID, true
	case pgtype.Float8ArrayOID:
		return pgtype.Float8OID, true
	case pgtype.TextArrayOID:
		return pgtype.TextOID, true
	case pgtype.VarcharArrayOID:
		return pgtype.VarcharOID, true
	case pgtype.ByteaArrayOID:
		return pgtype.ByteaOID, true
	case pgtype.UUIDArrayOID:
		return pgtype.UUIDOID, true
	case pgtype.JSONArrayOID:
		return pgtype.JSONOID, true
	case pgtype.JSONBArrayOID:
		return pgtype.JSONBOID, true
	case pgtype.MacaddrArrayOID:
		return pgtype.MacaddrOID, true
	default:
		return 0, false
	}
}
