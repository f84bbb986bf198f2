package index

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mundrapranay/silhouette-ste/internal/cuckoo"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// Wire layout, protobuf compatible:
//
//	Index  { 1 scheme, 2 multiplicity, 3 entry_size, 4 rows, 5 repeated Header, 6 repeated Tuple,
//	         7 noise_shift, 8 noise_mechanism, 9 noise_epsilon (double), 10 noise_sensitivity (double) }
//	Header { 1 section, 2 seed, 3 table_size, 4 stash_len }
//	Tuple  { 1 section, 2 table, 3 slot, 4 tag, 5 ciphertext, 6 iv }

// Marshal encodes a queryable or built index.
func Marshal(idx *Index) ([]byte, error) {
	if idx.State() == StateUninitialized {
		return nil, fmt.Errorf("failed to marshal index: index is %s", idx.State())
	}

	var b []byte
	b = appendBytes(b, 1, []byte(idx.Meta.Scheme))
	b = appendVarint(b, 2, uint64(idx.Meta.Multiplicity))
	b = appendVarint(b, 3, uint64(idx.Meta.EntrySize))
	b = appendVarint(b, 4, uint64(idx.Meta.Rows))
	b = appendVarint(b, 7, uint64(idx.Meta.NoiseShift))
	b = appendBytes(b, 8, []byte(idx.Meta.NoiseMechanism))
	b = appendDouble(b, 9, idx.Meta.NoiseEpsilon)
	b = appendDouble(b, 10, idx.Meta.NoiseSensitivity)

	for _, h := range idx.Headers() {
		var hb []byte
		hb = appendVarint(hb, 1, uint64(h.Section))
		hb = appendBytes(hb, 2, h.Seed)
		hb = appendVarint(hb, 3, uint64(h.TableSize))
		hb = appendVarint(hb, 4, uint64(h.StashLen))
		b = appendBytes(b, 5, hb)
	}

	for _, tp := range idx.Tuples() {
		var tb []byte
		tb = appendVarint(tb, 1, uint64(tp.Section))
		tb = appendVarint(tb, 2, uint64(tp.Table))
		tb = appendVarint(tb, 3, uint64(tp.Slot))
		tb = appendBytes(tb, 4, tp.Tag)
		tb = appendBytes(tb, 5, tp.Ciphertext)
		tb = appendBytes(tb, 6, tp.IV)
		b = appendBytes(b, 6, tb)
	}
	return b, nil
}

// Unmarshal decodes an index encoded by Marshal. The result is queryable.
// Out-of-range fields fail with errs.ErrInvalidParameter before anything is
// allocated from them.
func Unmarshal(b []byte) (*Index, error) {
	var (
		meta    Meta
		headers []Header
		tuples  []Tuple
	)

	err := walk(b, func(num protowire.Number, v uint64, raw []byte) error {
		var err error
		switch num {
		case 1:
			meta.Scheme = string(raw)
		case 2:
			meta.Multiplicity, err = bounded("multiplicity", v, maxMetaValue)
		case 3:
			meta.EntrySize, err = bounded("entry_size", v, maxMetaValue)
		case 4:
			meta.Rows, err = bounded("rows", v, maxMetaValue)
		case 5:
			var h Header
			if err := walk(raw, func(num protowire.Number, v uint64, raw []byte) error {
				var err error
				switch num {
				case 1:
					h.Section, err = sectionID(v)
				case 2:
					h.Seed = clone(raw)
				case 3:
					h.TableSize, err = bounded("table_size", v, MaxTableSize)
				case 4:
					h.StashLen, err = bounded("stash_len", v, cuckoo.MaxStash)
				}
				return err
			}); err != nil {
				return fmt.Errorf("failed to decode header: %w", err)
			}
			headers = append(headers, h)
		case 6:
			var tp Tuple
			if err := walk(raw, func(num protowire.Number, v uint64, raw []byte) error {
				var err error
				switch num {
				case 1:
					tp.Section, err = sectionID(v)
				case 2:
					if v > uint64(TableStash) {
						return errs.Errorf("index.Unmarshal", errs.ErrInvalidParameter, "unknown table %d", v)
					}
					tp.Table = TableID(v)
				case 3:
					tp.Slot, err = bounded("slot", v, MaxTableSize)
				case 4:
					tp.Tag = clone(raw)
				case 5:
					tp.Ciphertext = clone(raw)
				case 6:
					tp.IV = clone(raw)
				}
				return err
			}); err != nil {
				return fmt.Errorf("failed to decode tuple: %w", err)
			}
			tuples = append(tuples, tp)
		case 7:
			meta.NoiseShift, err = bounded("noise_shift", v, maxMetaValue)
		case 8:
			meta.NoiseMechanism = string(raw)
		case 9:
			meta.NoiseEpsilon = math.Float64frombits(v)
		case 10:
			meta.NoiseSensitivity = math.Float64frombits(v)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal index: %w", err)
	}

	return FromTuples(meta, headers, tuples)
}

// bounded converts a decoded varint to an int no larger than max.
func bounded(field string, v uint64, max int) (int, error) {
	if v > uint64(max) {
		return 0, errs.Errorf("index.Unmarshal", errs.ErrInvalidParameter, "%s %d exceeds %d", field, v, max)
	}
	return int(v), nil
}

func sectionID(v uint64) (SectionID, error) {
	if v >= uint64(numSections) {
		return 0, errs.Errorf("index.Unmarshal", errs.ErrInvalidParameter, "unknown section %d", v)
	}
	return SectionID(v), nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// walk calls fn for every varint, fixed64 or length-delimited field of b and
// skips other wire types.
func walk(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, 0, raw); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
