package emm

import (
	"bytes"
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/algorithms/noise"
	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

const NameDPVolumeHiding = "dp-volume-hiding"

// maxPaddedCount bounds the slot pairs one round-two token may request.
const maxPaddedCount = 1 << 20

func init() {
	Register(NameDPVolumeHiding, func(cfg Config) Builder { return NewDPVolumeHiding(cfg) })
}

// dpLayout is the client state of a DP index.
type dpLayout struct {
	values   layout
	counters layout
	params   noise.Params
}

// DPVolumeHiding stores only true entries and an encrypted count per label.
// A query first fetches the label's counter slots; the client then pads the
// count with keyed Laplace noise and asks for that many slot pairs.
type DPVolumeHiding struct {
	cfg Config

	mu     sync.RWMutex
	layout *dpLayout
}

// NewDPVolumeHiding creates an unbound interactive DP scheme.
func NewDPVolumeHiding(cfg Config) *DPVolumeHiding {
	return &DPVolumeHiding{cfg: cfg}
}

func (d *DPVolumeHiding) Name() string { return NameDPVolumeHiding }

// noiseParams calibrates the noise against the largest true multiplicity.
func noiseParams(cfg Config, mm Multimap) (noise.Params, error) {
	p, err := noise.Calibrate(cfg.Epsilon, cfg.Sensitivity, cfg.Truncation, mm.MaxMultiplicity())
	if err != nil {
		return noise.Params{}, err
	}
	p.Mechanism = cfg.NoiseMechanism
	return p, nil
}

// boundParams rebuilds the parameters of an index from its public metadata.
// The scale recorded at build time wins over cfg.
func boundParams(cfg Config, meta index.Meta) (noise.Params, error) {
	eps, sens := cfg.Epsilon, cfg.Sensitivity
	if meta.NoiseEpsilon > 0 {
		eps, sens = meta.NoiseEpsilon, meta.NoiseSensitivity
	}
	p, err := noise.Calibrate(eps, sens, 0, 0)
	if err != nil {
		return noise.Params{}, err
	}
	p.Shift = int64(meta.NoiseShift)
	p.Mechanism = noise.Mechanism(meta.NoiseMechanism)
	return p, nil
}

func (d *DPVolumeHiding) Setup(ctx context.Context, master []byte, mm Multimap) (*index.Index, error) {
	cfg := d.cfg
	cfg.HidingMode = HidingDifferentialPrivacy
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params, err := noiseParams(cfg, mm)
	if err != nil {
		return nil, err
	}
	keys, err := crypto.DeriveKeys(master)
	if err != nil {
		return nil, err
	}

	values, size, err := buildValues(ctx, cfg, keys, mm)
	if err != nil {
		return nil, err
	}

	counts := make(Multimap, len(mm))
	for l, vs := range mm {
		counts[l] = [][]byte{encodeCount(len(vs))}
	}
	counters, _, err := buildSection(ctx, cfg, keys, domainCounters, counts)
	if err != nil {
		return nil, err
	}

	idx := index.New(index.Meta{
		Scheme:           d.Name(),
		EntrySize:        size,
		Rows:             mm.Rows(),
		NoiseShift:       int(params.Shift),
		NoiseMechanism:   string(params.Mechanism),
		NoiseEpsilon:     params.Epsilon,
		NoiseSensitivity: params.Sensitivity,
	})
	if err := idx.SetSection(index.SectionMain, values); err != nil {
		return nil, err
	}
	if err := idx.SetSection(index.SectionCounters, counters); err != nil {
		return nil, err
	}
	if err := finish(idx); err != nil {
		return nil, err
	}

	cfg.log().WithFields(logrus.Fields{
		"scheme": d.Name(),
		"labels": len(mm),
		"scale":  params.Scale(),
		"shift":  params.Shift,
		"noise":  params.Mechanism,
	}).Debug("dp index built")

	d.bind(&dpLayout{
		values:   layout{seed: values.Seed, tableSize: values.TableSize},
		counters: layout{seed: counters.Seed, tableSize: counters.TableSize},
		params:   params,
	})
	return idx, nil
}

func (d *DPVolumeHiding) bind(l *dpLayout) {
	d.mu.Lock()
	d.layout = l
	d.mu.Unlock()
}

func (d *DPVolumeHiding) current(op string) (*dpLayout, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.layout == nil {
		return nil, errs.Errorf(op, errs.ErrInvalidState, "scheme not set up")
	}
	return d.layout, nil
}

func (d *DPVolumeHiding) Bind(idx *index.Index) error {
	values, err := idx.Require("DPVolumeHiding.Bind", index.SectionMain)
	if err != nil {
		return err
	}
	counters, err := idx.Require("DPVolumeHiding.Bind", index.SectionCounters)
	if err != nil {
		return err
	}
	if idx.Meta.Scheme != d.Name() {
		return errs.Errorf("DPVolumeHiding.Bind", errs.ErrInvalidParameter, "index built by %q", idx.Meta.Scheme)
	}
	params, err := boundParams(d.cfg, idx.Meta)
	if err != nil {
		return err
	}
	d.bind(&dpLayout{
		values:   layout{seed: values.Seed, tableSize: values.TableSize},
		counters: layout{seed: counters.Seed, tableSize: counters.TableSize},
		params:   params,
	})
	return nil
}

func (d *DPVolumeHiding) Begin(master []byte, label Label) (*Query, error) {
	l, err := d.current("DPVolumeHiding.Begin")
	if err != nil {
		return nil, err
	}
	keys, err := crypto.DeriveKeys(master)
	if err != nil {
		return nil, err
	}
	c, err := crypto.NewCipher(keys.Enc)
	if err != nil {
		return nil, err
	}
	return &Query{
		label:  label,
		keys:   keys,
		cipher: c,
		layout: l,
		state:  QueryAwaitingCount,
	}, nil
}

func (d *DPVolumeHiding) SearchCount(idx *index.Index, tok *SearchToken) ([]index.Slot, error) {
	sec, err := idx.Require("DPVolumeHiding.SearchCount", index.SectionCounters)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.Kind != TokenDelegated {
		return nil, errs.Errorf("DPVolumeHiding.SearchCount", errs.ErrInvalidParameter, "expected a delegated token")
	}
	if !bytes.Equal(tok.Seed, sec.Seed) {
		return nil, errs.Errorf("DPVolumeHiding.SearchCount", errs.ErrInvalidState, "token derived for another index")
	}
	return collect(sec, tok.Value, 1), nil
}

func (d *DPVolumeHiding) SearchSlots(idx *index.Index, tok *SearchToken) ([]index.Slot, error) {
	sec, err := idx.Require("DPVolumeHiding.SearchSlots", index.SectionMain)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.Kind != TokenDelegated {
		return nil, errs.Errorf("DPVolumeHiding.SearchSlots", errs.ErrInvalidParameter, "expected a delegated token")
	}
	if !bytes.Equal(tok.Seed, sec.Seed) {
		return nil, errs.Errorf("DPVolumeHiding.SearchSlots", errs.ErrInvalidState, "token derived for another index")
	}
	if tok.Count < 0 || tok.Count > maxPaddedCount {
		return nil, errs.Errorf("DPVolumeHiding.SearchSlots", errs.ErrInvalidParameter, "count %d out of range [0,%d]", tok.Count, maxPaddedCount)
	}
	return collect(sec, tok.Value, tok.Count), nil
}

// Run executes both rounds against a local index.
func Run(s TwoRoundEMM, idx *index.Index, master []byte, label Label) (*Query, [][]byte, error) {
	q, err := s.Begin(master, label)
	if err != nil {
		return nil, nil, err
	}
	tok, err := q.CountToken()
	if err != nil {
		return q, nil, err
	}
	counts, err := s.SearchCount(idx, tok)
	if err != nil {
		return q, nil, q.fail(err)
	}
	tok, err = q.SlotsToken(counts)
	if err != nil {
		return q, nil, err
	}
	slots, err := s.SearchSlots(idx, tok)
	if err != nil {
		return q, nil, q.fail(err)
	}
	values, err := q.Resolve(slots)
	return q, values, err
}
