package codec

import (
	"net"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/quarrier-db/quarrier/pgerr"
)

// From maps a host value into a Value for parameter binding. Bare host types
// get a natural OID (int → int8, string → text, map/slice documents → jsonb);
// callers needing a different wire type pass an explicit constructor such as
// SmallInt or VarChar instead. Unsupported host types fail with an encode
// error naming the type.
func From(arg any) (Value, error) {
	switch v := arg.(type) {
	case nil:
		return Null(pgtype.TextOID), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int16:
		return SmallInt(v), nil
	case int32:
		return Integer(v), nil
	case int:
		return BigInt(int64(v)), nil
	case int64:
		return BigInt(v), nil
	case float32:
		return Float32(v), nil
	case float64:
		return Float64(v), nil
	case string:
		return Text(v), nil
	case []byte:
		return Bytea(v), nil
	case uuid.UUID:
		return UUID(v), nil
	case net.HardwareAddr:
		switch len(v) {
		case 6:
			return MacAddr6(v), nil
		case 8:
			return MacAddr8(v), nil
		default:
			return Value{}, pgerr.NewConversion(pgerr.KindMacAddrConvert,
				pgerr.ConversionDetail{Length: len(v), Expected: 6},
				"hardware address has %d bytes, want 6 or 8", len(v))
		}
	case map[string]any:
		return JSONB(v), nil
	case []any:
		return JSONB(v), nil
	case []int64:
		elems := make([]Value, len(v))
		for i, e := range v {
			elems[i] = BigInt(e)
		}
		return Array(pgtype.Int8OID, elems), nil
	case []string:
		elems := make([]Value, len(v))
		for i, e := range v {
			elems[i] = Text(e)
		}
		return Array(pgtype.TextOID, elems), nil
	default:
		return Value{}, pgerr.NewConversion(pgerr.KindEncodeValue,
			pgerr.ConversionDetail{},
			"host type %T has no postgres mapping", arg)
	}
}

// FromAll converts a parameter list in order, stopping at the first failure.
func FromAll(args []any) ([]Value, error) {
	vals := make([]Value, len(args))
	for i, arg := range args {
		v, err := From(arg)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}
