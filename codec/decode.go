package codec

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"net"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/quarrier-db/quarrier/pgerr"
)

// Decode parses wire bytes claimed to be of the given OID into a Value. A nil
// slice decodes as NULL. Fixed-width types reject any other length with a
// conversion error naming both the observed and expected sizes; nothing is
// ever coerced to a default.
func Decode(oid uint32, data []byte) (Value, error) {
	if data == nil {
		return Null(oid), nil
	}
	if elemOID, ok := elementOIDFor(oid); ok {
		return decodeArray(oid, elemOID, data)
	}
	switch oid {
	case pgtype.BoolOID:
		if err := wantLen(oid, data, 1); err != nil {
			return Value{}, err
		}
		return Bool(data[0] != 0), nil
	case pgtype.Int2OID:
		if err := wantLen(oid, data, 2); err != nil {
			return Value{}, err
		}
		return SmallInt(int16(binary.BigEndian.Uint16(data))), nil
	case pgtype.Int4OID:
		if err := wantLen(oid, data, 4); err != nil {
			return Value{}, err
		}
		return Integer(int32(binary.BigEndian.Uint32(data))), nil
	case pgtype.Int8OID:
		if err := wantLen(oid, data, 8); err != nil {
			return Value{}, err
		}
		return BigInt(int64(binary.BigEndian.Uint64(data))), nil
	case pgtype.Float4OID:
		if err := wantLen(oid, data, 4); err != nil {
			return Value{}, err
		}
		return Float32(math.Float32frombits(binary.BigEndian.Uint32(data))), nil
	case pgtype.Float8OID:
		if err := wantLen(oid, data, 8); err != nil {
			return Value{}, err
		}
		return Float64(math.Float64frombits(binary.BigEndian.Uint64(data))), nil
	case pgtype.TextOID:
		return Text(string(data)), nil
	case pgtype.VarcharOID:
		return VarChar(string(data)), nil
	case pgtype.ByteaOID:
		return Bytea(append([]byte(nil), data...)), nil
	case pgtype.UUIDOID:
		return decodeUUID(data)
	case pgtype.MacaddrOID:
		return decodeMacAddr(oid, data, 6)
	case pgtype.Macaddr8OID:
		return decodeMacAddr(oid, data, 8)
	case pgtype.JSONOID:
		return decodeJSONDoc(oid, data, false)
	case pgtype.JSONBOID:
		return decodeJSONDoc(oid, data, true)
	default:
		return Custom(oid, append([]byte(nil), data...)), nil
	}
}

func wantLen(oid uint32, data []byte, want int) error {
	if len(data) == want {
		return nil
	}
	return pgerr.NewConversion(pgerr.KindDecodeValue,
		pgerr.ConversionDetail{OID: oid, Length: len(data), Expected: want},
		"oid %d is %d bytes wide, got %d", oid, want, len(data))
}

// decodeUUID accepts the 16-byte binary layout, and falls back to parsing the
// 36-char text form so values copied out of text-format result sets still
// convert. Anything else fails with the raw string attached.
func decodeUUID(data []byte) (Value, error) {
	if len(data) == 16 {
		var u uuid.UUID
		copy(u[:], data)
		return UUID(u), nil
	}
	u, err := uuid.Parse(string(data))
	if err != nil {
		return Value{}, pgerr.WrapConversion(pgerr.KindUUIDConvert, err,
			pgerr.ConversionDetail{OID: pgtype.UUIDOID, Length: len(data), Expected: 16, Raw: string(data)},
			"cannot parse %d bytes as uuid", len(data))
	}
	return UUID(u), nil
}

func decodeMacAddr(oid uint32, data []byte, want int) (Value, error) {
	if len(data) != want {
		return Value{}, pgerr.NewConversion(pgerr.KindMacAddrConvert,
			pgerr.ConversionDetail{OID: oid, Length: len(data), Expected: want},
			"macaddr field has %d bytes, expected %d", len(data), want)
	}
	hw := net.HardwareAddr(append([]byte(nil), data...))
	if want == 8 {
		return MacAddr8(hw), nil
	}
	return MacAddr6(hw), nil
}

// decodeJSONDoc separates framing problems from syntax problems: an empty
// payload or a bad jsonb version byte is a truncation/framing error, while
// bytes the JSON parser rejects surface the parser's own structured error.
func decodeJSONDoc(oid uint32, data []byte, jsonb bool) (Value, error) {
	if len(data) == 0 {
		return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
			pgerr.ConversionDetail{OID: oid, Length: 0, Expected: 1},
			"truncated %s payload", oidName(oid))
	}
	body := data
	if jsonb {
		if data[0] != jsonbVersion {
			return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
				pgerr.ConversionDetail{OID: oid, Length: len(data)},
				"jsonb version byte is %d, expected %d", data[0], jsonbVersion)
		}
		body = data[1:]
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Value{}, pgerr.WrapConversion(pgerr.KindDecodeValue, err,
			pgerr.ConversionDetail{OID: oid, Length: len(data), Raw: string(body)},
			"invalid %s syntax", oidName(oid))
	}
	if jsonb {
		return JSONB(doc), nil
	}
	return JSON(doc), nil
}

func oidName(oid uint32) string {
	if oid == pgtype.JSONBOID {
		return "jsonb"
	}
	return "json"
}

// decodeArray parses the standard array wire layout. Zero dimensions is an
// empty array; more than one dimension is not supported by this codec.
func decodeArray(oid, elemOID uint32, data []byte) (Value, error) {
	if len(data) < 12 {
		return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
			pgerr.ConversionDetail{OID: oid, Length: len(data), Expected: 12},
			"array header needs 12 bytes, got %d", len(data))
	}
	ndim := int32(binary.BigEndian.Uint32(data[0:4]))
	wireElemOID := binary.BigEndian.Uint32(data[8:12])
	if wireElemOID != elemOID {
		return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
			pgerr.ConversionDetail{OID: oid, Length: len(data)},
			"array of oid %d carries element oid %d, expected %d", oid, wireElemOID, elemOID)
	}
	if ndim == 0 {
		return Array(elemOID, nil), nil
	}
	if ndim != 1 {
		return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
			pgerr.ConversionDetail{OID: oid, Length: len(data)},
			"array has %d dimensions, only 1 is supported", ndim)
	}
	if len(data) < 20 {
		return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
			pgerr.ConversionDetail{OID: oid, Length: len(data), Expected: 20},
			"array dimension header truncated at %d bytes", len(data))
	}
	count := int(int32(binary.BigEndian.Uint32(data[12:16])))
	rest := data[20:]
	// The count comes off the wire; every element costs at least a 4-byte
	// length prefix, so a claim beyond len(rest)/4 cannot be honest. Checked
	// before any allocation is sized from it.
	if count < 0 || count > len(rest)/4 {
		return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
			pgerr.ConversionDetail{OID: oid, Length: len(data)},
			"array claims %d elements, %d payload bytes remain", count, len(rest))
	}
	elems := make([]Value, 0, count)
	for range count {
		if len(rest) < 4 {
			return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
				pgerr.ConversionDetail{OID: oid, Length: len(data)},
				"array payload truncated: %d of %d elements read", len(elems), count)
		}
		elemLen := int32(binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
		if elemLen < 0 {
			elems = append(elems, Null(elemOID))
			continue
		}
		if len(rest) < int(elemLen) {
			return Value{}, pgerr.NewConversion(pgerr.KindDecodeValue,
				pgerr.ConversionDetail{OID: oid, Length: len(data)},
				"array element %d claims %d bytes, %d remain", len(elems), elemLen, len(rest))
		}
		elem, err := Decode(elemOID, rest[:elemLen])
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, elem)
		rest = rest[elemLen:]
	}
	return Array(elemOID, elems), nil
}
