package emm

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mundrapranay/silhouette-ste/algorithms/noise"
	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/cuckoo"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

const NameDPVolumeHidingNonInteractive = "dp-volume-hiding-noninteractive"

// lookupPadding is the fraction of dummy rows added to the lookup section so
// the server does not learn the exact number of labels.
const lookupPadding = 0.3

func init() {
	Register(NameDPVolumeHidingNonInteractive, func(cfg Config) Builder { return NewDPVolumeHidingNonInteractive(cfg) })
}

// DPVolumeHidingNonInteractive precomputes every padded count at setup. The
// lookup section maps Digest(token) to the noisy count in plaintext, so the
// server expands a single token without a second round.
type DPVolumeHidingNonInteractive struct {
	cfg Config

	mu     sync.RWMutex
	layout *layout
}

// NewDPVolumeHidingNonInteractive creates an unbound single-round DP scheme.
func NewDPVolumeHidingNonInteractive(cfg Config) *DPVolumeHidingNonInteractive {
	return &DPVolumeHidingNonInteractive{cfg: cfg}
}

func (d *DPVolumeHidingNonInteractive) Name() string { return NameDPVolumeHidingNonInteractive }

func (d *DPVolumeHidingNonInteractive) Setup(ctx context.Context, master []byte, mm Multimap) (*index.Index, error) {
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

	rows, err := lookupRows(ctx, cfg, keys, values.Seed, mm, params)
	if err != nil {
		return nil, err
	}
	lookup, err := cuckoo.BuildMap(ctx, rows, cfg.Cuckoo, cfg.log())
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
	if err := idx.SetSection(index.SectionLookup, sectionFromMap(lookup)); err != nil {
		return nil, err
	}
	if err := finish(idx); err != nil {
		return nil, err
	}

	cfg.log().WithFields(logrus.Fields{
		"scheme":      d.Name(),
		"labels":      len(mm),
		"lookup_rows": len(rows),
		"shift":       params.Shift,
	}).Debug("dp index built")

	d.mu.Lock()
	d.layout = &layout{seed: values.Seed, tableSize: values.TableSize}
	d.mu.Unlock()
	return idx, nil
}

// lookupRows computes the padded count of every label in parallel, then adds
// random dummy rows with counts drawn from the same distribution.
func lookupRows(ctx context.Context, cfg Config, keys *crypto.Keys, seed []byte, mm Multimap, params noise.Params) (map[string]index.Slot, error) {
	labels := mm.Labels()
	labelRows := make([]index.Slot, len(labels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())
	for i, label := range labels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			padded, err := paddedCount(keys, label, len(mm[label]), params)
			if err != nil {
				return err
			}
			tag := crypto.Digest(delegate(keys.GGM, domainValues, seed, label))
			labelRows[i] = index.Slot{Tag: tag, Data: encodeCount(padded)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := int(math.Ceil((1 + lookupPadding) * float64(len(labels))))
	rows := make(map[string]index.Slot, total)
	for _, s := range labelRows {
		rows[string(s.Tag)] = s
	}
	for len(rows) < total {
		tag := make([]byte, crypto.PRFSize)
		if _, err := io.ReadFull(rand.Reader, tag); err != nil {
			return nil, fmt.Errorf("failed to generate dummy tag: %w", err)
		}
		count, err := noise.DummyCount(params)
		if err != nil {
			return nil, err
		}
		rows[string(tag)] = index.Slot{Tag: tag, Data: encodeCount(int(count))}
	}
	return rows, nil
}

func (d *DPVolumeHidingNonInteractive) Bind(idx *index.Index) error {
	values, err := idx.Require("DPVolumeHidingNonInteractive.Bind", index.SectionMain)
	if err != nil {
		return err
	}
	if _, err := idx.Require("DPVolumeHidingNonInteractive.Bind", index.SectionLookup); err != nil {
		return err
	}
	if idx.Meta.Scheme != d.Name() {
		return errs.Errorf("DPVolumeHidingNonInteractive.Bind", errs.ErrInvalidParameter, "index built by %q", idx.Meta.Scheme)
	}
	d.mu.Lock()
	d.layout = &layout{seed: values.Seed, tableSize: values.TableSize}
	d.mu.Unlock()
	return nil
}

func (d *DPVolumeHidingNonInteractive) Token(master []byte, label Label) (*SearchToken, error) {
	d.mu.RLock()
	l := d.layout
	d.mu.RUnlock()
	if l == nil {
		return nil, errs.Errorf("DPVolumeHidingNonInteractive.Token", errs.ErrInvalidState, "scheme not set up")
	}
	keys, err := crypto.DeriveKeys(master)
	if err != nil {
		return nil, err
	}
	return &SearchToken{Kind: TokenDelegated, Value: delegate(keys.GGM, domainValues, l.seed, label)}, nil
}

// PaddedCount returns the count the server expands tok to. A token with no
// lookup row has count zero.
func (d *DPVolumeHidingNonInteractive) PaddedCount(idx *index.Index, tok *SearchToken) (int, error) {
	lookup, err := idx.Require("DPVolumeHidingNonInteractive.PaddedCount", index.SectionLookup)
	if err != nil {
		return 0, err
	}
	if tok == nil || tok.Kind != TokenDelegated {
		return 0, errs.Errorf("DPVolumeHidingNonInteractive.PaddedCount", errs.ErrInvalidParameter, "expected a delegated token")
	}
	row, ok := lookup.FetchTag(crypto.Digest(tok.Value))
	if !ok {
		return 0, nil
	}
	return decodeCount(row.Data)
}

func (d *DPVolumeHidingNonInteractive) Search(idx *index.Index, tok *SearchToken) ([]index.Slot, error) {
	count, err := d.PaddedCount(idx, tok)
	if err != nil {
		return nil, err
	}
	if count > maxPaddedCount {
		return nil, errs.Errorf("DPVolumeHidingNonInteractive.Search", errs.ErrInvalidParameter, "count %d exceeds %d", count, maxPaddedCount)
	}
	sec, err := idx.Require("DPVolumeHidingNonInteractive.Search", index.SectionMain)
	if err != nil {
		return nil, err
	}
	return collect(sec, tok.Value, count), nil
}

func (d *DPVolumeHidingNonInteractive) Resolve(master []byte, label Label, slots []index.Slot) ([][]byte, error) {
	return resolve(master, label, slots)
}
