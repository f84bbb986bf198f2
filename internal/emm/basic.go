package emm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/cuckoo"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

const NameBasic = "basic"

func init() {
	Register(NameBasic, func(cfg Config) Builder { return NewBasic(cfg) })
}

// Basic stores exactly the true multiplicity of every label. Row i of a
// label lives under tag Digest(token || i), so the server walks i upward
// until a miss.
type Basic struct {
	cfg Config

	mu    sync.RWMutex
	bound bool
}

// NewBasic creates an unbound Basic scheme.
func NewBasic(cfg Config) *Basic {
	return &Basic{cfg: cfg}
}

func (b *Basic) Name() string { return NameBasic }

// labelToken is the distributed PRF of label, so no single share holder can
// derive tokens.
func (b *Basic) labelToken(keys *crypto.Keys, label Label) ([]byte, error) {
	d, err := crypto.NewDPRF(keys.DPRF, b.cfg.parties())
	if err != nil {
		return nil, err
	}
	return d.Evaluate([]byte("basic-token"), crypto.LengthPrefixed([]byte(label)))
}

func rowTag(token []byte, i int) []byte {
	return crypto.Digest(token, crypto.Uint64Bytes(uint64(i)))
}

func (b *Basic) Setup(ctx context.Context, master []byte, mm Multimap) (*index.Index, error) {
	if err := b.cfg.Validate(); err != nil {
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

	size := entrySize(mm)
	labels := mm.Labels()
	rows := make([]map[string]index.Slot, len(labels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.workers())
	for li, label := range labels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			token, err := b.labelToken(keys, label)
			if err != nil {
				return err
			}
			out := make(map[string]index.Slot, len(mm[label]))
			for i, v := range mm[label] {
				pt, err := encodeEntry(label, v, size)
				if err != nil {
					return err
				}
				ct, err := c.Seal(pt)
				if err != nil {
					return fmt.Errorf("failed to encrypt entry: %w", err)
				}
				tag := rowTag(token, i)
				out[string(tag)] = index.Slot{Tag: tag, IV: ct.IV, Data: ct.Data}
			}
			rows[li] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make(map[string]index.Slot, mm.Rows())
	for _, r := range rows {
		for tag, slot := range r {
			entries[tag] = slot
		}
	}

	m, err := cuckoo.BuildMap(ctx, entries, b.cfg.Cuckoo, b.cfg.log())
	if err != nil {
		return nil, err
	}

	idx := index.New(index.Meta{Scheme: b.Name(), EntrySize: size, Rows: len(entries)})
	if err := idx.SetSection(index.SectionMain, sectionFromMap(m)); err != nil {
		return nil, err
	}
	if err := finish(idx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.bound = true
	b.mu.Unlock()
	return idx, nil
}

func (b *Basic) Bind(idx *index.Index) error {
	if _, err := idx.Require("Basic.Bind", index.SectionMain); err != nil {
		return err
	}
	if idx.Meta.Scheme != b.Name() {
		return errs.Errorf("Basic.Bind", errs.ErrInvalidParameter, "index built by %q", idx.Meta.Scheme)
	}
	b.mu.Lock()
	b.bound = true
	b.mu.Unlock()
	return nil
}

func (b *Basic) Token(master []byte, label Label) (*SearchToken, error) {
	b.mu.RLock()
	bound := b.bound
	b.mu.RUnlock()
	if !bound {
		return nil, errs.Errorf("Basic.Token", errs.ErrInvalidState, "scheme not set up")
	}
	keys, err := crypto.DeriveKeys(master)
	if err != nil {
		return nil, err
	}
	token, err := b.labelToken(keys, label)
	if err != nil {
		return nil, err
	}
	return &SearchToken{Kind: TokenLabel, Value: token}, nil
}

func (b *Basic) Search(idx *index.Index, tok *SearchToken) ([]index.Slot, error) {
	sec, err := idx.Require("Basic.Search", index.SectionMain)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.Kind != TokenLabel {
		return nil, errs.Errorf("Basic.Search", errs.ErrInvalidParameter, "expected a label token")
	}

	var out []index.Slot
	for i := 0; ; i++ {
		slot, ok := sec.FetchTag(rowTag(tok.Value, i))
		if !ok {
			return out, nil
		}
		out = append(out, slot)
	}
}

func (b *Basic) Resolve(master []byte, label Label, slots []index.Slot) ([][]byte, error) {
	return resolve(master, label, slots)
}

// sectionFromMap copies a tag-addressed cuckoo map into a section.
func sectionFromMap(m *cuckoo.Map[index.Slot]) *index.Section {
	t := m.Table()
	sizing := t.Sizing()
	sec := index.NewSection(m.Seed(), sizing.TableSize, sizing.StashCapacity)
	for table := range sec.Tables {
		for i := range sec.Tables[table] {
			if e, ok := t.Slot(table, i); ok {
				sec.Tables[table][i] = e.Value
			}
		}
	}
	for i, e := range t.Stash() {
		sec.Stash[i] = e.Value
	}
	return sec
}

// finish moves a fully populated index to Queryable.
func finish(idx *index.Index) error {
	if err := idx.MarkBuilt(); err != nil {
		return err
	}
	return idx.MarkQueryable()
}
