// Package index holds the server-side encrypted index: cuckoo-addressed
// sections of opaque slots plus the public metadata a client needs to
// derive tokens against them.
package index

import (
	"bytes"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/mundrapranay/silhouette-ste/internal/cuckoo"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// State is the lifecycle of an index.
type State int32

const (
	StateUninitialized State = iota
	StateBuilt
	StateQueryable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBuilt:
		return "built"
	case StateQueryable:
		return "queryable"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SectionID names one cuckoo-addressed region of an index.
type SectionID uint8

const (
	// SectionMain holds the value entries.
	SectionMain SectionID = iota
	// SectionCounters holds per-label encrypted counts.
	SectionCounters
	// SectionLookup holds token-digest addressed rows.
	SectionLookup

	numSections
)

func (id SectionID) String() string {
	switch id {
	case SectionMain:
		return "main"
	case SectionCounters:
		return "counters"
	case SectionLookup:
		return "lookup"
	default:
		return fmt.Sprintf("section(%d)", uint8(id))
	}
}

// Decoder limits. A section never holds more than MaxTableSize slots per
// table, and metadata counts fit in an int32.
const (
	MaxTableSize = 1 << 24
	maxMetaValue = math.MaxInt32
)

// TableID identifies a table inside a section.
type TableID uint8

const (
	TablePrimary TableID = iota
	TableSecondary
	TableStash
)

// Slot is one stored cell. Tag is set only in tag-addressed sections; IV
// is empty for plaintext rows.
type Slot struct {
	Tag  []byte
	IV   []byte
	Data []byte
}

// IsEmpty reports whether the slot holds nothing.
func (s Slot) IsEmpty() bool {
	return len(s.Tag) == 0 && len(s.IV) == 0 && len(s.Data) == 0
}

// Equal reports whether two slots hold the same bytes.
func (s Slot) Equal(o Slot) bool {
	return bytes.Equal(s.Tag, o.Tag) && bytes.Equal(s.IV, o.IV) && bytes.Equal(s.Data, o.Data)
}

// Section is a pair of fixed-size tables and a stash.
type Section struct {
	// Seed addresses tagged slots. It is public.
	Seed      []byte
	TableSize int
	Tables    [2][]Slot
	Stash     []Slot
}

// NewSection allocates empty tables of size and a stash of stashLen slots.
func NewSection(seed []byte, size, stashLen int) *Section {
	s := &Section{
		Seed:      append([]byte(nil), seed...),
		TableSize: size,
		Stash:     make([]Slot, stashLen),
	}
	for i := range s.Tables {
		s.Tables[i] = make([]Slot, size)
	}
	return s
}

// Fetch returns slot i of table.
func (s *Section) Fetch(table TableID, i int) (Slot, error) {
	switch table {
	case TablePrimary, TableSecondary:
		if i < 0 || i >= s.TableSize {
			return Slot{}, errs.Errorf("index.Fetch", errs.ErrInvalidParameter, "slot %d out of range [0,%d)", i, s.TableSize)
		}
		return s.Tables[table][i], nil
	case TableStash:
		if i < 0 || i >= len(s.Stash) {
			return Slot{}, errs.Errorf("index.Fetch", errs.ErrInvalidParameter, "stash slot %d out of range [0,%d)", i, len(s.Stash))
		}
		return s.Stash[i], nil
	default:
		return Slot{}, errs.Errorf("index.Fetch", errs.ErrInvalidParameter, "unknown table %d", table)
	}
}

// FetchTag returns the slot whose tag equals tag.
func (s *Section) FetchTag(tag []byte) (Slot, bool) {
	if s.TableSize == 0 {
		return Slot{}, false
	}
	pos := cuckoo.Positions(s.Seed, tag, s.TableSize)
	for t, p := range pos {
		if slot := s.Tables[t][p]; bytes.Equal(slot.Tag, tag) {
			return slot, true
		}
	}
	for _, slot := range s.Stash {
		if bytes.Equal(slot.Tag, tag) {
			return slot, true
		}
	}
	return Slot{}, false
}

// StashSlots returns a copy of the stash.
func (s *Section) StashSlots() []Slot {
	return append([]Slot(nil), s.Stash...)
}

// Meta is the public description of an index.
type Meta struct {
	Scheme string
	// Multiplicity is the padded per-label count, when the scheme has one.
	Multiplicity int
	// EntrySize is the fixed plaintext length of every entry.
	EntrySize int
	// Rows is the number of stored values.
	Rows int
	// NoiseShift is the public shift of the DP noise distribution.
	NoiseShift int
	// NoiseMechanism names the DP noise distribution. Empty means Laplace.
	NoiseMechanism string
	// NoiseEpsilon and NoiseSensitivity fix the DP noise scale at build time.
	NoiseEpsilon     float64
	NoiseSensitivity float64
}

func (m Meta) validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{
		{"multiplicity", m.Multiplicity},
		{"entry_size", m.EntrySize},
		{"rows", m.Rows},
		{"noise_shift", m.NoiseShift},
	} {
		if f.v < 0 || f.v > maxMetaValue {
			return errs.Errorf("index.Meta", errs.ErrInvalidParameter, "%s %d out of range", f.name, f.v)
		}
	}
	for _, f := range []float64{m.NoiseEpsilon, m.NoiseSensitivity} {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return errs.Errorf("index.Meta", errs.ErrInvalidParameter, "noise scale parameter %v out of range", f)
		}
	}
	return nil
}

// Index is an encrypted multimap as the server holds it.
type Index struct {
	Meta     Meta
	sections [numSections]*Section
	state    atomic.Int32
}

// New returns an uninitialized index.
func New(meta Meta) *Index {
	return &Index{Meta: meta}
}

// State returns the current lifecycle state.
func (idx *Index) State() State {
	return State(idx.state.Load())
}

// SetSection installs a section. It fails once the index is built.
func (idx *Index) SetSection(id SectionID, s *Section) error {
	if id >= numSections {
		return errs.Errorf("index.SetSection", errs.ErrInvalidParameter, "unknown section %d", id)
	}
	if idx.State() != StateUninitialized {
		return errs.Errorf("index.SetSection", errs.ErrInvalidState, "index is %s", idx.State())
	}
	idx.sections[id] = s
	return nil
}

// Section returns the section id, or nil if absent.
func (idx *Index) Section(id SectionID) *Section {
	if id >= numSections {
		return nil
	}
	return idx.sections[id]
}

// MarkBuilt seals the sections.
func (idx *Index) MarkBuilt() error {
	if !idx.state.CompareAndSwap(int32(StateUninitialized), int32(StateBuilt)) {
		return errs.Errorf("index.MarkBuilt", errs.ErrInvalidState, "index is %s", idx.State())
	}
	return nil
}

// MarkQueryable opens a built index for search.
func (idx *Index) MarkQueryable() error {
	if !idx.state.CompareAndSwap(int32(StateBuilt), int32(StateQueryable)) {
		return errs.Errorf("index.MarkQueryable", errs.ErrInvalidState, "index is %s", idx.State())
	}
	return nil
}

// CheckQueryable returns errs.ErrInvalidState unless idx is queryable.
func (idx *Index) CheckQueryable(op string) error {
	if idx == nil {
		return errs.Errorf(op, errs.ErrInvalidParameter, "nil index")
	}
	if s := idx.State(); s != StateQueryable {
		return errs.Errorf(op, errs.ErrInvalidState, "index is %s", s)
	}
	return nil
}

// Require returns section id or an error if the scheme did not build it.
func (idx *Index) Require(op string, id SectionID) (*Section, error) {
	if err := idx.CheckQueryable(op); err != nil {
		return nil, err
	}
	s := idx.Section(id)
	if s == nil {
		return nil, errs.Errorf(op, errs.ErrInvalidState, "index has no %s section", id)
	}
	return s, nil
}
