package rangescheme

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/algorithms/brc"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

// RangeScheme is implemented by every range scheme.
type RangeScheme interface {
	Name() string

	// Setup builds an index over records.
	Setup(ctx context.Context, master []byte, records []Record) (*index.Index, error)

	// Bind restores client state for an index built earlier.
	Bind(idx *index.Index) error

	// Query answers [a, b] against a local index.
	Query(ctx context.Context, master []byte, idx *index.Index, a, b uint64) (*Result, error)
}

// BuildMultimap inserts every record under each tree node containing its
// position. Boolean indexes drop weights.
func BuildMultimap(cfg Config, records []Record) (emm.Multimap, error) {
	mm := make(emm.Multimap)
	for _, r := range records {
		path, err := brc.Ancestors(cfg.DomainSize, r.Position)
		if err != nil {
			return nil, errs.Errorf("rangescheme.BuildMultimap", errs.ErrInvalidParameter, "record %d at position %d: %v", r.ID, r.Position, err)
		}
		if cfg.QueryType == BooleanQuery {
			r.Weight = 0
		}
		v := r.Marshal()
		for _, n := range path {
			label := emm.Label(n.Label())
			mm[label] = append(mm[label], v)
		}
	}
	return mm, nil
}

// base holds what the one-round and two-round schemes share.
type base struct {
	cfg     Config
	name    string
	builder emm.Builder
	run     runner
}

func (s *base) Name() string { return s.name }

func (s *base) Setup(ctx context.Context, master []byte, records []Record) (*index.Index, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	mm, err := BuildMultimap(s.cfg, records)
	if err != nil {
		return nil, err
	}
	idx, err := s.builder.Setup(ctx, master, mm)
	if err != nil {
		return nil, err
	}
	s.cfg.log().WithFields(logrus.Fields{
		"scheme":  s.name,
		"records": len(records),
		"labels":  len(mm),
	}).Info("range index built")
	return idx, nil
}

func (s *base) Bind(idx *index.Index) error {
	return s.builder.Bind(idx)
}

// cover validates [a, b] and returns the nodes to query, widened to whole
// blocks when blocking is on.
func (s *base) cover(a, b uint64) ([]brc.Node, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	lo, hi := a, b
	if s.cfg.BlockSize > 0 {
		var err error
		if lo, hi, err = brc.BlockedRange(s.cfg.DomainSize, a, b, s.cfg.BlockSize); err != nil {
			return nil, err
		}
	}
	return brc.Cover(s.cfg.DomainSize, lo, hi)
}

// Trapdoor is the client's view of a one-round range query. Tokens is what
// the server receives, one per node.
type Trapdoor struct {
	Lo, Hi uint64
	Nodes  []brc.Node
	Tokens []*emm.SearchToken
}

// Scheme is the range scheme over a one-round EMM.
type Scheme struct {
	base
	emm emm.EMM
}

// New returns a range scheme that handles cover nodes one at a time.
func New(cfg Config, e emm.EMM) *Scheme {
	return &Scheme{base: base{cfg: cfg, name: "range-brc/" + e.Name(), builder: e, run: sequential}, emm: e}
}

// NewParallel returns a range scheme that handles cover nodes concurrently.
func NewParallel(cfg Config, e emm.EMM) *Scheme {
	return &Scheme{base: base{cfg: cfg, name: "parallel-range-brc/" + e.Name(), builder: e, run: concurrent(cfg.workers())}, emm: e}
}

// Trapdoor derives one token per cover node of [a, b].
func (s *Scheme) Trapdoor(ctx context.Context, master []byte, a, b uint64) (*Trapdoor, error) {
	nodes, err := s.cover(a, b)
	if err != nil {
		return nil, err
	}
	tokens := make([]*emm.SearchToken, len(nodes))
	err = s.run(ctx, len(nodes), func(_ context.Context, i int) error {
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
func (s *Scheme) Search(ctx context.Context, idx *index.Index, tokens []*emm.SearchToken) ([][]index.Slot, error) {
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

// Result decrypts the per-node answers and merges them.
func (s *Scheme) Result(ctx context.Context, master []byte, td *Trapdoor, slots [][]index.Slot) (*Result, error) {
	if len(slots) != len(td.Nodes) {
		return nil, errs.Errorf("Scheme.Result", errs.ErrInvalidParameter, "got %d answers for %d nodes", len(slots), len(td.Nodes))
	}
	values := make([][][]byte, len(td.Nodes))
	err := s.run(ctx, len(td.Nodes), func(_ context.Context, i int) error {
		v, err := s.emm.Resolve(master, emm.Label(td.Nodes[i].Label()), slots[i])
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

func (s *Scheme) Query(ctx context.Context, master []byte, idx *index.Index, a, b uint64) (*Result, error) {
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

// QueryBoolean returns the records in [a, b].
func QueryBoolean(ctx context.Context, s RangeScheme, master []byte, idx *index.Index, a, b uint64) ([]Record, error) {
	res, err := s.Query(ctx, master, idx, a, b)
	if err != nil {
		return nil, err
	}
	return res.Records(), nil
}

// QueryWeighted returns the per-position weight sums in [a, b] and their total.
func QueryWeighted(ctx context.Context, s RangeScheme, master []byte, idx *index.Index, a, b uint64) (map[uint64]int64, int64, error) {
	res, err := s.Query(ctx, master, idx, a, b)
	if err != nil {
		return nil, 0, err
	}
	return res.Weights()
}
