package rangescheme

import (
	"context"

	"github.com/mundrapranay/silhouette-ste/algorithms/brc"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

// DPScheme is the range scheme over a two-round EMM. Each cover node is its
// own two-round query, so per-node volume is padded with per-node noise.
type DPScheme struct {
	base
	emm emm.TwoRoundEMM
}

// NewDP returns a DP range scheme that handles cover nodes one at a time.
func NewDP(cfg Config, e emm.TwoRoundEMM) *DPScheme {
	return &DPScheme{base: base{cfg: cfg, name: "dp-range-brc/" + e.Name(), builder: e, run: sequential}, emm: e}
}

// NewParallelDP returns a DP range scheme that handles cover nodes
// concurrently, noise sampling included.
func NewParallelDP(cfg Config, e emm.TwoRoundEMM) *DPScheme {
	return &DPScheme{base: base{cfg: cfg, name: "parallel-dp-range-brc/" + e.Name(), builder: e, run: concurrent(cfg.workers())}, emm: e}
}

// RangeQuery is the client side of a two-round range query.
type RangeQuery struct {
	Lo, Hi uint64
	Nodes  []brc.Node

	qt      QueryType
	run     runner
	queries []*emm.Query
}

// Begin starts one two-round query per cover node of [a, b].
func (s *DPScheme) Begin(master []byte, a, b uint64) (*RangeQuery, error) {
	nodes, err := s.cover(a, b)
	if err != nil {
		return nil, err
	}
	queries := make([]*emm.Query, len(nodes))
	for i, n := range nodes {
		if queries[i], err = s.emm.Begin(master, emm.Label(n.Label())); err != nil {
			return nil, err
		}
	}
	return &RangeQuery{Lo: a, Hi: b, Nodes: nodes, qt: s.cfg.QueryType, run: s.run, queries: queries}, nil
}

// CountTokens returns the round-one tokens.
func (q *RangeQuery) CountTokens(ctx context.Context) ([]*emm.SearchToken, error) {
	tokens := make([]*emm.SearchToken, len(q.queries))
	err := q.run(ctx, len(q.queries), func(_ context.Context, i int) error {
		tok, err := q.queries[i].CountToken()
		tokens[i] = tok
		return err
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// SlotsTokens consumes the round-one answers and returns the round-two
// tokens, each carrying its node's padded count.
func (q *RangeQuery) SlotsTokens(ctx context.Context, counts [][]index.Slot) ([]*emm.SearchToken, error) {
	if len(counts) != len(q.queries) {
		return nil, errs.Errorf("RangeQuery.SlotsTokens", errs.ErrInvalidParameter, "got %d answers for %d nodes", len(counts), len(q.queries))
	}
	tokens := make([]*emm.SearchToken, len(q.queries))
	err := q.run(ctx, len(q.queries), func(_ context.Context, i int) error {
		tok, err := q.queries[i].SlotsToken(counts[i])
		tokens[i] = tok
		return err
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Resolve consumes the round-two answers.
func (q *RangeQuery) Resolve(ctx context.Context, slots [][]index.Slot) (*Result, error) {
	if len(slots) != len(q.queries) {
		return nil, errs.Errorf("RangeQuery.Resolve", errs.ErrInvalidParameter, "got %d answers for %d nodes", len(slots), len(q.queries))
	}
	values := make([][][]byte, len(q.queries))
	err := q.run(ctx, len(q.queries), func(_ context.Context, i int) error {
		v, err := q.queries[i].Resolve(slots[i])
		values[i] = v
		return err
	})
	if err != nil {
		return nil, err
	}

	res := newResult(q.Lo, q.Hi, q.qt)
	if err := res.merge(values); err != nil {
		return nil, err
	}
	return res, nil
}

// PaddedCounts returns the per-node counts revealed in round two.
func (q *RangeQuery) PaddedCounts() []int {
	out := make([]int, len(q.queries))
	for i, eq := range q.queries {
		out[i] = eq.PaddedCount()
	}
	return out
}

// SearchCount is the server side of round one.
func (s *DPScheme) SearchCount(ctx context.Context, idx *index.Index, tokens []*emm.SearchToken) ([][]index.Slot, error) {
	return s.search(ctx, tokens, func(tok *emm.SearchToken) ([]index.Slot, error) {
		return s.emm.SearchCount(idx, tok)
	})
}

// SearchSlots is the server side of round two.
func (s *DPScheme) SearchSlots(ctx context.Context, idx *index.Index, tokens []*emm.SearchToken) ([][]index.Slot, error) {
	return s.search(ctx, tokens, func(tok *emm.SearchToken) ([]index.Slot, error) {
		return s.emm.SearchSlots(idx, tok)
	})
}

func (s *DPScheme) search(ctx context.Context, tokens []*emm.SearchToken, fn func(*emm.SearchToken) ([]index.Slot, error)) ([][]index.Slot, error) {
	out := make([][]index.Slot, len(tokens))
	err := s.run(ctx, len(tokens), func(_ context.Context, i int) error {
		slots, err := fn(tokens[i])
		out[i] = slots
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DPScheme) Query(ctx context.Context, master []byte, idx *index.Index, a, b uint64) (*Result, error) {
	q, err := s.Begin(master, a, b)
	if err != nil {
		return nil, err
	}
	tokens, err := q.CountTokens(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.SearchCount(ctx, idx, tokens)
	if err != nil {
		return nil, err
	}
	if tokens, err = q.SlotsTokens(ctx, counts); err != nil {
		return nil, err
	}
	slots, err := s.SearchSlots(ctx, idx, tokens)
	if err != nil {
		return nil, err
	}
	return q.Resolve(ctx, slots)
}
