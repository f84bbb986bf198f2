package rangescheme

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// Record is one indexed row: an identifier at a domain position, with an
// optional weight for aggregate queries.
type Record struct {
	Position uint64
	ID       uint64
	Weight   int64
}

const (
	fieldPosition protowire.Number = 1
	fieldID       protowire.Number = 2
	fieldWeight   protowire.Number = 3
)

// Marshal encodes r as a protobuf message.
func (r Record) Marshal() []byte {
	b := make([]byte, 0, 32)
	b = protowire.AppendTag(b, fieldPosition, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Position)
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.ID)
	b = protowire.AppendTag(b, fieldWeight, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Weight))
	return b
}

// UnmarshalRecord decodes a record written by Marshal. Unknown fields are
// skipped.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, errs.Errorf("rangescheme.UnmarshalRecord", errs.ErrInvalidParameter, "bad tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, errs.Errorf("rangescheme.UnmarshalRecord", errs.ErrInvalidParameter, "bad field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return Record{}, errs.Errorf("rangescheme.UnmarshalRecord", errs.ErrInvalidParameter, "bad varint in field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldPosition:
			r.Position = v
		case fieldID:
			r.ID = v
		case fieldWeight:
			r.Weight = protowire.DecodeZigZag(v)
		}
	}
	return r, nil
}
