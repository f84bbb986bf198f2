package index

import (
	"github.com/mundrapranay/silhouette-ste/internal/cuckoo"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// Tuple is one persisted slot.
type Tuple struct {
	Section    SectionID
	Table      TableID
	Slot       int
	Tag        []byte
	Ciphertext []byte
	IV         []byte
}

// Header is the public geometry of a section.
type Header struct {
	Section   SectionID
	Seed      []byte
	TableSize int
	StashLen  int
}

// Headers returns the geometry of every present section in id order.
func (idx *Index) Headers() []Header {
	var out []Header
	for id, s := range idx.sections {
		if s == nil {
			continue
		}
		out = append(out, Header{
			Section:   SectionID(id),
			Seed:      s.Seed,
			TableSize: s.TableSize,
			StashLen:  len(s.Stash),
		})
	}
	return out
}

// Tuples flattens every non-empty slot, ordered by section, table and slot.
func (idx *Index) Tuples() []Tuple {
	var out []Tuple
	emit := func(id SectionID, table TableID, i int, s Slot) {
		if s.IsEmpty() {
			return
		}
		out = append(out, Tuple{
			Section:    id,
			Table:      table,
			Slot:       i,
			Tag:        s.Tag,
			Ciphertext: s.Data,
			IV:         s.IV,
		})
	}
	for id, sec := range idx.sections {
		if sec == nil {
			continue
		}
		for t := range sec.Tables {
			for i, s := range sec.Tables[t] {
				emit(SectionID(id), TableID(t), i, s)
			}
		}
		for i, s := range sec.Stash {
			emit(SectionID(id), TableStash, i, s)
		}
	}
	return out
}

// FromTuples rebuilds a queryable index. Any out-of-range tuple rejects the
// whole input.
func FromTuples(meta Meta, headers []Header, tuples []Tuple) (*Index, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}
	idx := New(meta)
	for _, h := range headers {
		if h.Section >= numSections {
			return nil, errs.Errorf("index.FromTuples", errs.ErrInvalidParameter, "unknown section %d", h.Section)
		}
		if h.TableSize < 0 || h.TableSize > MaxTableSize || h.StashLen < 0 || h.StashLen > cuckoo.MaxStash {
			return nil, errs.Errorf("index.FromTuples", errs.ErrInvalidParameter, "geometry %d/%d out of range for %s", h.TableSize, h.StashLen, h.Section)
		}
		if idx.sections[h.Section] != nil {
			return nil, errs.Errorf("index.FromTuples", errs.ErrInvalidParameter, "duplicate %s header", h.Section)
		}
		idx.sections[h.Section] = NewSection(h.Seed, h.TableSize, h.StashLen)
	}

	for _, tp := range tuples {
		if tp.Section >= numSections || idx.sections[tp.Section] == nil {
			return nil, errs.Errorf("index.FromTuples", errs.ErrInvalidParameter, "tuple for missing section %d", tp.Section)
		}
		sec := idx.sections[tp.Section]
		if _, err := sec.Fetch(tp.Table, tp.Slot); err != nil {
			return nil, err
		}
		slot := Slot{Tag: tp.Tag, IV: tp.IV, Data: tp.Ciphertext}
		if tp.Table == TableStash {
			sec.Stash[tp.Slot] = slot
		} else {
			sec.Tables[tp.Table][tp.Slot] = slot
		}
	}

	if err := idx.MarkBuilt(); err != nil {
		return nil, err
	}
	if err := idx.MarkQueryable(); err != nil {
		return nil, err
	}
	return idx, nil
}
