// Package server is the untrusted side of the protocol. It stores published
// indexes and answers search tokens with encrypted slots; it never holds a
// key.
package server

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
	"github.com/mundrapranay/silhouette-ste/internal/logging"
)

// Catalog stores published indexes. *store.Store implements it.
type Catalog interface {
	SaveIndex(name string, idx *index.Index) error
	LoadIndex(name string) (*index.Index, error)
	DeleteIndex(name string) error
	ListIndexes() []string
}

// MaxBatch bounds the tokens in one request.
const MaxBatch = 4096

const (
	roundOne   = "one"
	roundCount = "count"
	roundSlots = "slots"
)

// Server answers search requests. Every error it returns is a gRPC status.
type Server struct {
	catalog Catalog
	metrics *Metrics
	log     logrus.FieldLogger
}

// NewServer creates a server over catalog.
func NewServer(catalog Catalog, metrics *Metrics, log logrus.FieldLogger) *Server {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Server{
		catalog: catalog,
		metrics: metrics,
		log:     logging.OrDiscard(log),
	}
}

func (s *Server) fail(op string, err error) error {
	st := errs.ToStatus(err)
	code := errs.Code(err)
	s.metrics.failures.WithLabelValues(code.String()).Inc()
	s.log.WithFields(logrus.Fields{"op": op, "code": code}).WithError(err).Warn("request failed")
	return st
}

// Publish stores a built index under name. Only the leader accepts it.
func (s *Server) Publish(ctx context.Context, name string, idx *index.Index) error {
	if err := ctx.Err(); err != nil {
		return s.fail("Publish", err)
	}
	if err := idx.CheckQueryable("server.Publish"); err != nil {
		return s.fail("Publish", err)
	}
	if _, err := emm.Get(idx.Meta.Scheme, emm.Config{}); err != nil {
		return s.fail("Publish", err)
	}
	if err := s.catalog.SaveIndex(name, idx); err != nil {
		return s.fail("Publish", err)
	}

	s.metrics.publishes.Inc()
	s.log.WithFields(logrus.Fields{"index": name, "scheme": idx.Meta.Scheme, "rows": idx.Meta.Rows}).Info("index published")
	return nil
}

// Unpublish removes the index stored under name.
func (s *Server) Unpublish(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return s.fail("Unpublish", err)
	}
	if err := s.catalog.DeleteIndex(name); err != nil {
		return s.fail("Unpublish", err)
	}
	return nil
}

// Indexes lists published index names.
func (s *Server) Indexes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail("Indexes", err)
	}
	return s.catalog.ListIndexes(), nil
}

// Meta returns the public description of an index. Clients need it to
// learn the padded multiplicity and noise shift.
func (s *Server) Meta(ctx context.Context, name string) (index.Meta, error) {
	if err := ctx.Err(); err != nil {
		return index.Meta{}, s.fail("Meta", err)
	}
	idx, err := s.catalog.LoadIndex(name)
	if err != nil {
		return index.Meta{}, s.fail("Meta", err)
	}
	return idx.Meta, nil
}

// Search answers one token of a one-round scheme.
func (s *Server) Search(ctx context.Context, name string, tok *emm.SearchToken) ([]index.Slot, error) {
	out, err := s.SearchBatch(ctx, name, []*emm.SearchToken{tok})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SearchBatch answers several tokens of a one-round scheme, such as the
// nodes of a range cover.
func (s *Server) SearchBatch(ctx context.Context, name string, tokens []*emm.SearchToken) ([][]index.Slot, error) {
	return s.batch(ctx, "SearchBatch", roundOne, name, tokens, func(b emm.Builder) (searchFunc, error) {
		e, ok := emm.AsEMM(b)
		if !ok {
			return nil, errs.Errorf("server.SearchBatch", errs.ErrInvalidState, "scheme %s is two-round", b.Name())
		}
		return e.Search, nil
	})
}

// SearchCount answers round one of a two-round scheme.
func (s *Server) SearchCount(ctx context.Context, name string, tokens []*emm.SearchToken) ([][]index.Slot, error) {
	return s.batch(ctx, "SearchCount", roundCount, name, tokens, func(b emm.Builder) (searchFunc, error) {
		t, ok := emm.AsTwoRound(b)
		if !ok {
			return nil, errs.Errorf("server.SearchCount", errs.ErrInvalidState, "scheme %s is one-round", b.Name())
		}
		return t.SearchCount, nil
	})
}

// SearchSlots answers round two of a two-round scheme.
func (s *Server) SearchSlots(ctx context.Context, name string, tokens []*emm.SearchToken) ([][]index.Slot, error) {
	return s.batch(ctx, "SearchSlots", roundSlots, name, tokens, func(b emm.Builder) (searchFunc, error) {
		t, ok := emm.AsTwoRound(b)
		if !ok {
			return nil, errs.Errorf("server.SearchSlots", errs.ErrInvalidState, "scheme %s is one-round", b.Name())
		}
		return t.SearchSlots, nil
	})
}

type searchFunc func(idx *index.Index, tok *emm.SearchToken) ([]index.Slot, error)

func (s *Server) batch(ctx context.Context, op, round, name string, tokens []*emm.SearchToken, pick func(emm.Builder) (searchFunc, error)) ([][]index.Slot, error) {
	if len(tokens) == 0 || len(tokens) > MaxBatch {
		return nil, s.fail(op, errs.Errorf("server."+op, errs.ErrInvalidParameter, "batch of %d tokens, want 1..%d", len(tokens), MaxBatch))
	}
	idx, err := s.catalog.LoadIndex(name)
	if err != nil {
		return nil, s.fail(op, err)
	}
	// Search is a pure function of the index and token, so an unbound
	// scheme instance serves every request.
	b, err := emm.Get(idx.Meta.Scheme, emm.Config{})
	if err != nil {
		return nil, s.fail(op, err)
	}
	search, err := pick(b)
	if err != nil {
		return nil, s.fail(op, err)
	}

	out := make([][]index.Slot, len(tokens))
	returned := 0
	for i, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(op, err)
		}
		slots, err := search(idx, tok)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out[i] = slots
		returned += len(slots)
	}

	s.metrics.searches.WithLabelValues(idx.Meta.Scheme, round).Add(float64(len(tokens)))
	s.metrics.slots.Add(float64(returned))
	s.log.WithFields(logrus.Fields{"index": name, "op": op, "tokens": len(tokens), "slots": returned}).Debug("search answered")
	return out, nil
}
