package rangescheme

import (
	"context"

	"github.com/google/differential-privacy/go/v2/rand"

	"github.com/mundrapranay/silhouette-ste/algorithms/brc"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

// span is a query range of the fake query space. When Start > End it wraps
// around the domain and covers [Start, N-1] and [0, End].
type span struct {
	Start, End uint64
}

func (s span) wraps() bool { return s.Start > s.End }

// positions lists every position of s in a domain of size n.
func (s span) positions(n uint64) []uint64 {
	var out []uint64
	if !s.wraps() {
		for p := s.Start; p <= s.End; p++ {
			out = append(out, p)
		}
		return out
	}
	for p := s.Start; p < n; p++ {
		out = append(out, p)
	}
	for p := uint64(0); p <= s.End; p++ {
		out = append(out, p)
	}
	return out
}

// querySpace enumerates the ranges of span at most t over a domain of size
// n: normal ranges [j, j+w] with w <= t, and wrap-around ranges holding d+1
// positions with 1 <= d <= t.
type querySpace struct {
	n, t uint64
}

// maxSpan is the largest span that fits the domain.
func (q querySpace) maxSpan() uint64 {
	if q.t < q.n-1 {
		return q.t
	}
	return q.n - 1
}

// normalCount is the number of normal ranges: sum of n-w for w in [0, maxSpan].
func (q querySpace) normalCount() uint64 {
	var c uint64
	for w := uint64(0); w <= q.maxSpan(); w++ {
		c += q.n - w
	}
	return c
}

// wrapCount is the number of wrap-around ranges: sum of d for d in [1, maxSpan].
func (q querySpace) wrapCount() uint64 {
	m := q.maxSpan()
	return m * (m + 1) / 2
}

// normal returns the k-th normal range, k < normalCount.
func (q querySpace) normal(k uint64) span {
	for w := uint64(0); ; w++ {
		if c := q.n - w; k >= c {
			k -= c
			continue
		}
		return span{Start: k, End: k + w}
	}
}

// wrap returns the k-th wrap-around range, k < wrapCount. A range with span
// d ends at e in [0, d) and starts at n-d+e.
func (q querySpace) wrap(k uint64) span {
	for d := uint64(1); ; d++ {
		if k >= d {
			k -= d
			continue
		}
		return span{Start: q.n - d + k, End: k}
	}
}

// WrapAround is the one-round range scheme that hides the shape of a query.
// A range of span at most T is sent as its singleton leaves, mixed with the
// leaves of a fake range drawn from all normal and wrap-around ranges of span
// at most T, in random order.
type WrapAround struct {
	base
	emm emm.EMM
	t   uint64

	// draw returns a uniform integer in [0, n); flip is a uniform float in (0, 1].
	draw func(n int64) int64
	flip func() float64
}

// NewWrapAround returns a wrap-around range scheme for queries of span at
// most t.
func NewWrapAround(cfg Config, e emm.EMM, t uint64) *WrapAround {
	return &WrapAround{
		base: base{cfg: cfg, name: "wrap-around-brc/" + e.Name(), builder: e, run: concurrent(cfg.workers())},
		emm:  e,
		t:    t,
		draw: rand.I63n,
		flip: rand.Uniform,
	}
}

// T returns the largest supported query span.
func (s *WrapAround) T() uint64 { return s.t }

// fake draws the companion range. The coin picks a wrap-around range with
// probability (t-1)/2n.
func (s *WrapAround) fake() span {
	q := querySpace{n: s.cfg.DomainSize, t: s.t}
	wrapProb := (float64(s.t) - 1) / (2 * float64(s.cfg.DomainSize))
	if wc := q.wrapCount(); wc > 0 && s.flip() <= wrapProb {
		return q.wrap(uint64(s.draw(int64(wc))))
	}
	return q.normal(uint64(s.draw(int64(q.normalCount()))))
}

func (s *WrapAround) shuffle(nodes []brc.Node) {
	for i := len(nodes) - 1; i > 0; i-- {
		j := s.draw(int64(i + 1))
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}

// Trapdoor derives one token per distinct leaf of [a, b] and of a fake range.
func (s *WrapAround) Trapdoor(ctx context.Context, master []byte, a, b uint64) (*Trapdoor, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if a > b || b >= s.cfg.DomainSize {
		return nil, errs.Errorf("WrapAround.Trapdoor", errs.ErrInvalidParameter, "invalid range [%d,%d] for domain %d", a, b, s.cfg.DomainSize)
	}
	if b-a > s.t {
		return nil, errs.Errorf("WrapAround.Trapdoor", errs.ErrInvalidParameter, "range [%d,%d] spans more than %d", a, b, s.t)
	}

	seen := make(map[uint64]bool)
	var nodes []brc.Node
	add := func(ps []uint64) {
		for _, p := range ps {
			if !seen[p] {
				seen[p] = true
				nodes = append(nodes, brc.Node{Lo: p, Hi: p})
			}
		}
	}
	add(span{Start: a, End: b}.positions(s.cfg.DomainSize))
	add(s.fake().positions(s.cfg.DomainSize))
	s.shuffle(nodes)

	tokens := make([]*emm.SearchToken, len(nodes))
	err := s.run(ctx, len(nodes), func(_ context.Context, i int) error {
		tok, err := s.emm.Token(master, emm.Label(nodes[i].Label()))
		if err != nil {
			return err
		}
		tokens[i] = tok
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Trapdoor{Lo: a, Hi: b, Nodes: nodes, Tokens: tokens}, nil
}

// Search is the server side: one slot list per token.
func (s *WrapAround) Search(ctx context.Context, idx *index.Index, tokens []*emm.SearchToken) ([][]index.Slot, error) {
	out := make([][]index.Slot, len(tokens))
	err := s.run(ctx, len(tokens), func(_ context.Context, i int) error {
		slots, err := s.emm.Search(idx, tokens[i])
		if err != nil {
			return err
		}
		out[i] = slots
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Result decrypts only the answers for leaves inside [Lo, Hi]; the fake
// leaves are dropped unopened.
func (s *WrapAround) Result(ctx context.Context, master []byte, td *Trapdoor, slots [][]index.Slot) (*Result, error) {
	if len(slots) != len(td.Nodes) {
		return nil, errs.Errorf("WrapAround.Result", errs.ErrInvalidParameter, "got %d answers for %d nodes", len(slots), len(td.Nodes))
	}
	values := make([][][]byte, len(td.Nodes))
	err := s.run(ctx, len(td.Nodes), func(_ context.Context, i int) error {
		n := td.Nodes[i]
		if n.Lo < td.Lo || n.Hi > td.Hi {
			return nil
		}
		v, err := s.emm.Resolve(master, emm.Label(n.Label()), slots[i])
		if err != nil {
			return err
		}
		values[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := newResult(td.Lo, td.Hi, s.cfg.QueryType)
	if err := res.merge(values); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *WrapAround) Query(ctx context.Context, master []byte, idx *index.Index, a, b uint64) (*Result, error) {
	td, err := s.Trapdoor(ctx, master, a, b)
	if err != nil {
		return nil, err
	}
	slots, err := s.Search(ctx, idx, td.Tokens)
	if err != nil {
		return nil, err
	}
	return s.Result(ctx, master, td, slots)
}
