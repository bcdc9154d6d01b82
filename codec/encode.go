package codec

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/quarrier-db/quarrier/pgerr"
)

const jsonbVersion = 1

// Encode renders a value into the PostgreSQL binary wire format. A NULL
// encodes as a nil slice; the wire layer translates that into length -1.
// Encoding is deterministic for a given value.
func Encode(v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		if v.b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case KindInt2:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(v.i))
		return buf, nil
	case KindInt4:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(v.i))
		return buf, nil
	case KindInt8:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v.i))
		return buf, nil
	case KindFloat4:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v.f)))
		return buf, nil
	case KindFloat8:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.f))
		return buf, nil
	case KindText, KindVarChar:
		return []byte(v.s), nil
	case KindBytea:
		return append([]byte(nil), v.raw...), nil
	case KindUUID:
		buf := make([]byte, 16)
		copy(buf, v.u[:])
		return buf, nil
	case KindMacAddr6:
		return encodeMacAddr(v, 6)
	case KindMacAddr8:
		return encodeMacAddr(v, 8)
	case KindJSON:
		return encodeJSONDoc(v, false)
	case KindJSONB:
		return encodeJSONDoc(v, true)
	case KindArray:
		return encodeArray(v)
	case KindCustom:
		return append([]byte(nil), v.raw...), nil
	default:
		return nil, pgerr.NewConversion(pgerr.KindEncodeValue,
			pgerr.ConversionDetail{OID: v.oid},
			"unsupported value kind %q for oid %d", v.kind, v.oid)
	}
}

func encodeMacAddr(v Value, want int) ([]byte, error) {
	if len(v.hw) != want {
		return nil, pgerr.NewConversion(pgerr.KindMacAddrConvert,
			pgerr.ConversionDetail{OID: v.oid, Length: len(v.hw), Expected: want},
			"hardware address has %d bytes, %s requires %d", len(v.hw), v.kind, want)
	}
	return append([]byte(nil), v.hw...), nil
}

func encodeJSONDoc(v Value, jsonb bool) ([]byte, error) {
	data, err := json.Marshal(v.doc)
	if err != nil {
		return nil, pgerr.WrapConversion(pgerr.KindEncodeValue, err,
			pgerr.ConversionDetail{OID: v.oid},
			"host document of type %T is not marshalable to %s", v.doc, v.kind)
	}
	if !jsonb {
		return data, nil
	}
	return append([]byte{jsonbVersion}, data...), nil
}

// encodeArray writes the standard array header (ndim, hasnull flag, element
// OID, one dimension with lower bound 1) followed by length-prefixed
// elements. Only one-dimensional arrays are produced.
func encodeArray(v Value) ([]byte, error) {
	elemOID := v.ElementOID()
	if v.oid == 0 {
		return nil, pgerr.NewConversion(pgerr.KindEncodeValue,
			pgerr.ConversionDetail{OID: elemOID},
			"no array type registered for element oid %d", elemOID)
	}
	buf := make([]byte, 0, 20+len(v.elems)*8)
	hasNull := uint32(0)
	for _, e := range v.elems {
		if e.IsNull() {
			hasNull = 1
			break
		}
	}
	buf = binary.BigEndian.AppendUint32(buf, 1) // ndim
	buf = binary.BigEndian.AppendUint32(buf, hasNull)
	buf = binary.BigEndian.AppendUint32(buf, elemOID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.elems)))
	buf = binary.BigEndian.AppendUint32(buf, 1) // lower bound
	for _, e := range v.elems {
		// NULL elements still carry a claimed OID and get the same check.
		if e.oid != elemOID {
			return nil, pgerr.NewConversion(pgerr.KindEncodeValue,
				pgerr.ConversionDetail{OID: elemOID},
				"array element of kind %q has oid %d, want %d", e.kind, e.oid, elemOID)
		}
		if e.IsNull() {
			buf = binary.BigEndian.AppendUint32(buf, 0xFFFFFFFF)
			continue
		}
		data, err := Encode(e)
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return buf, nil
}
