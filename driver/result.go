package driver

import (
	"github.com/quarrier-db/quarrier/codec"
	"github.com/quarrier-db/quarrier/pgerr"
)

// Row is one decoded result row.
type Row []codec.Value

// RowSet is a fully decoded result: field metadata, rows, and the command
// tag reported by the backend.
type RowSet struct {
	fields []Field
	rows   []Row
	tag    string
}

// Fields returns the column descriptions.
func (rs *RowSet) Fields() []Field { return rs.fields }

// Rows returns all decoded rows.
func (rs *RowSet) Rows() []Row { return rs.rows }

// Len returns the number of rows.
func (rs *RowSet) Len() int { return len(rs.rows) }

// CommandTag returns the backend's command completion tag.
func (rs *RowSet) CommandTag() string { return rs.tag }

// decodeResult converts raw wire rows into host values. Conversion failures
// propagate as codec errors so the caller sees the offending OID and length,
// not a generic execute failure.
func decodeResult(res *Result) (*RowSet, error) {
	rs := &RowSet{fields: res.Fields, tag: res.Tag}
	rs.rows = make([]Row, 0, len(res.Rows))
	for _, raw := range res.Rows {
		row := make(Row, len(raw))
		for i, cell := range raw {
			v, err := codec.Decode(res.Fields[i].OID, cell)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		rs.rows = append(rs.rows, row)
	}
	return rs, nil
}

// encodeParams binds host arguments through the codec into wire parameters.
func encodeParams(args []any) ([]Param, error) {
	vals, err := codec.FromAll(args)
	if err != nil {
		return nil, err
	}
	params := make([]Param, len(vals))
	for i, v := range vals {
		data, err := codec.Encode(v)
		if err != nil {
			return nil, err
		}
		params[i] = Param{OID: v.OID(), Data: data}
	}
	return params, nil
}

// singleRow enforces the exactly-one-row contract of FetchRow and FetchVal.
func singleRow(rs *RowSet) (Row, error) {
	switch rs.Len() {
	case 1:
		return rs.rows[0], nil
	case 0:
		return nil, pgerr.New(pgerr.KindConnectionExecute, "query returned no rows, expected exactly one")
	default:
		return nil, pgerr.New(pgerr.KindConnectionExecute, "query returned %d rows, expected exactly one", rs.Len())
	}
}
