package emm

import (
	"context"
	"sync"

	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

const (
	NameVolumeHiding          = "volume-hiding"
	NameVolumeHidingOptimised = "volume-hiding-optimised"
)

func init() {
	Register(NameVolumeHiding, func(cfg Config) Builder { return NewVolumeHiding(cfg) })
	Register(NameVolumeHidingOptimised, func(cfg Config) Builder { return NewVolumeHidingOptimised(cfg) })
}

// layout is the public geometry a client needs to address a section.
type layout struct {
	seed         []byte
	tableSize    int
	multiplicity int
}

// VolumeHiding pads every label to the global maximum multiplicity M. The
// i-th entry of a label sits in one of two slots derived from the tree PRF,
// empty slots hold encrypted dummies, and every query touches exactly M
// slot pairs plus the stash.
//
// The optimised variant sends the delegated tree node instead of the M
// position pairs, and the server expands it.
type VolumeHiding struct {
	cfg       Config
	optimised bool

	mu     sync.RWMutex
	layout *layout
}

// NewVolumeHiding creates the variant whose token lists slot pairs.
func NewVolumeHiding(cfg Config) *VolumeHiding {
	return &VolumeHiding{cfg: cfg}
}

// NewVolumeHidingOptimised creates the variant whose token is one tree node.
func NewVolumeHidingOptimised(cfg Config) *VolumeHiding {
	return &VolumeHiding{cfg: cfg, optimised: true}
}

func (v *VolumeHiding) Name() string {
	if v.optimised {
		return NameVolumeHidingOptimised
	}
	return NameVolumeHiding
}

func (v *VolumeHiding) Setup(ctx context.Context, master []byte, mm Multimap) (*index.Index, error) {
	if err := v.cfg.Validate(); err != nil {
		return nil, err
	}
	keys, err := crypto.DeriveKeys(master)
	if err != nil {
		return nil, err
	}

	sec, size, err := buildValues(ctx, v.cfg, keys, mm)
	if err != nil {
		return nil, err
	}

	m := mm.MaxMultiplicity()
	idx := index.New(index.Meta{Scheme: v.Name(), Multiplicity: m, EntrySize: size, Rows: mm.Rows()})
	if err := idx.SetSection(index.SectionMain, sec); err != nil {
		return nil, err
	}
	if err := finish(idx); err != nil {
		return nil, err
	}

	v.cfg.log().WithField("scheme", v.Name()).WithField("multiplicity", m).Debug("volume-hiding index built")
	v.bind(&layout{seed: sec.Seed, tableSize: sec.TableSize, multiplicity: m})
	return idx, nil
}

// buildValues places and encrypts the values of mm into a fresh section.
func buildValues(ctx context.Context, cfg Config, keys *crypto.Keys, mm Multimap) (*index.Section, int, error) {
	return buildSection(ctx, cfg, keys, domainValues, mm)
}

func (v *VolumeHiding) bind(l *layout) {
	v.mu.Lock()
	v.layout = l
	v.mu.Unlock()
}

func (v *VolumeHiding) current(op string) (*layout, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.layout == nil {
		return nil, errs.Errorf(op, errs.ErrInvalidState, "scheme not set up")
	}
	return v.layout, nil
}

func (v *VolumeHiding) Bind(idx *index.Index) error {
	sec, err := idx.Require("VolumeHiding.Bind", index.SectionMain)
	if err != nil {
		return err
	}
	if idx.Meta.Scheme != v.Name() {
		return errs.Errorf("VolumeHiding.Bind", errs.ErrInvalidParameter, "index built by %q", idx.Meta.Scheme)
	}
	v.bind(&layout{seed: sec.Seed, tableSize: sec.TableSize, multiplicity: idx.Meta.Multiplicity})
	return nil
}

func (v *VolumeHiding) Token(master []byte, label Label) (*SearchToken, error) {
	l, err := v.current("VolumeHiding.Token")
	if err != nil {
		return nil, err
	}
	keys, err := crypto.DeriveKeys(master)
	if err != nil {
		return nil, err
	}

	token := delegate(keys.GGM, domainValues, l.seed, label)
	if v.optimised {
		return &SearchToken{Kind: TokenDelegated, Value: token, Count: l.multiplicity}, nil
	}

	positions := make([][2]int, l.multiplicity)
	for i := range positions {
		positions[i] = expand(token, i, l.tableSize)
	}
	return &SearchToken{Kind: TokenPositions, Positions: positions}, nil
}

func (v *VolumeHiding) Search(idx *index.Index, tok *SearchToken) ([]index.Slot, error) {
	sec, err := idx.Require("VolumeHiding.Search", index.SectionMain)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, errs.Errorf("VolumeHiding.Search", errs.ErrInvalidParameter, "nil token")
	}

	switch tok.Kind {
	case TokenPositions:
		if len(tok.Positions) != idx.Meta.Multiplicity {
			return nil, errs.Errorf("VolumeHiding.Search", errs.ErrInvalidParameter, "token has %d pairs, index pads to %d", len(tok.Positions), idx.Meta.Multiplicity)
		}
		return collectPositions(sec, tok.Positions)
	case TokenDelegated:
		// The server expands to the public multiplicity, never to a
		// client-chosen count.
		return collect(sec, tok.Value, idx.Meta.Multiplicity), nil
	default:
		return nil, errs.Errorf("VolumeHiding.Search", errs.ErrInvalidParameter, "unsupported token kind %d", tok.Kind)
	}
}

func (v *VolumeHiding) Resolve(master []byte, label Label, slots []index.Slot) ([][]byte, error) {
	return resolve(master, label, slots)
}

func resolve(master []byte, label Label, slots []index.Slot) ([][]byte, error) {
	keys, err := crypto.DeriveKeys(master)
	if err != nil {
		return nil, err
	}
	c, err := crypto.NewCipher(keys.Enc)
	if err != nil {
		return nil, err
	}
	return open(c, label, slots)
}
