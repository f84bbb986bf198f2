// Package client is the key holder's side of the protocol: it builds
// indexes, publishes them and turns labels and ranges into search tokens.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/algorithms"
	"github.com/mundrapranay/silhouette-ste/algorithms/common"
	"github.com/mundrapranay/silhouette-ste/algorithms/rangescheme"
	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
	"github.com/mundrapranay/silhouette-ste/internal/logging"
)

// Backend is the server surface the client talks to. *server.Server
// implements it in process; a transport would implement it remotely.
type Backend interface {
	Publish(ctx context.Context, name string, idx *index.Index) error
	SearchBatch(ctx context.Context, name string, tokens []*emm.SearchToken) ([][]index.Slot, error)
	SearchCount(ctx context.Context, name string, tokens []*emm.SearchToken) ([][]index.Slot, error)
	SearchSlots(ctx context.Context, name string, tokens []*emm.SearchToken) ([][]index.Slot, error)
}

// Client holds the master key and the bound scheme of every index it built.
type Client struct {
	backend Backend
	master  []byte
	cfg     common.SchemeConfig
	log     logrus.FieldLogger

	mu     sync.RWMutex
	labels map[string]emm.Builder
	ranges map[string]rangescheme.RangeScheme
}

// New creates a client. master must be crypto.KeySize bytes.
func New(backend Backend, master []byte, cfg *common.SchemeConfig, log logrus.FieldLogger) (*Client, error) {
	if len(master) != crypto.KeySize {
		return nil, errs.Errorf("client.New", errs.ErrInvalidParameter, "master key must be %d bytes, got %d", crypto.KeySize, len(master))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		backend: backend,
		master:  append([]byte(nil), master...),
		cfg:     *cfg,
		log:     logging.OrDiscard(log),
		labels:  make(map[string]emm.Builder),
		ranges:  make(map[string]rangescheme.RangeScheme),
	}, nil
}

// Build encrypts mm and publishes it under name.
func (c *Client) Build(ctx context.Context, name string, mm emm.Multimap) error {
	b, err := algorithms.NewEMM(&c.cfg, c.log)
	if err != nil {
		return err
	}
	idx, err := b.Setup(ctx, c.master, mm)
	if err != nil {
		return err
	}
	if err := c.backend.Publish(ctx, name, idx); err != nil {
		return errs.FromStatus("client.Build", err)
	}

	c.mu.Lock()
	c.labels[name] = b
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"index": name, "scheme": b.Name(), "labels": len(mm)}).Info("index built")
	return nil
}

// Query returns the values of label in index name, running one or two
// rounds as the scheme requires.
func (c *Client) Query(ctx context.Context, name string, label emm.Label) ([][]byte, error) {
	c.mu.RLock()
	b, ok := c.labels[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errs.Errorf("client.Query", errs.ErrNotFound, "no index %q built by this client", name)
	}

	if e, ok := emm.AsEMM(b); ok {
		tok, err := e.Token(c.master, label)
		if err != nil {
			return nil, err
		}
		slots, err := c.backend.SearchBatch(ctx, name, []*emm.SearchToken{tok})
		if err != nil {
			return nil, errs.FromStatus("client.Query", err)
		}
		return e.Resolve(c.master, label, slots[0])
	}

	t, ok := emm.AsTwoRound(b)
	if !ok {
		return nil, errs.Errorf("client.Query", errs.ErrInvalidState, "scheme %s has no query protocol", b.Name())
	}
	q, err := t.Begin(c.master, label)
	if err != nil {
		return nil, err
	}
	tok, err := q.CountToken()
	if err != nil {
		return nil, err
	}
	counts, err := c.backend.SearchCount(ctx, name, []*emm.SearchToken{tok})
	if err != nil {
		return nil, errs.FromStatus("client.Query", err)
	}
	if tok, err = q.SlotsToken(counts[0]); err != nil {
		return nil, err
	}
	slots, err := c.backend.SearchSlots(ctx, name, []*emm.SearchToken{tok})
	if err != nil {
		return nil, errs.FromStatus("client.Query", err)
	}
	return q.Resolve(slots[0])
}

// BuildRange indexes records for range queries and publishes the result.
func (c *Client) BuildRange(ctx context.Context, name string, records []rangescheme.Record) error {
	s, err := algorithms.NewRangeScheme(&c.cfg, c.log)
	if err != nil {
		return err
	}
	idx, err := s.Setup(ctx, c.master, records)
	if err != nil {
		return err
	}
	if err := c.backend.Publish(ctx, name, idx); err != nil {
		return errs.FromStatus("client.BuildRange", err)
	}

	c.mu.Lock()
	c.ranges[name] = s
	c.mu.Unlock()
	return nil
}

// QueryRange answers [a, b] against index name.
func (c *Client) QueryRange(ctx context.Context, name string, a, b uint64) (*rangescheme.Result, error) {
	c.mu.RLock()
	s, ok := c.ranges[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errs.Errorf("client.QueryRange", errs.ErrNotFound, "no range index %q built by this client", name)
	}

	switch s := s.(type) {
	case *rangescheme.Scheme:
		td, err := s.Trapdoor(ctx, c.master, a, b)
		if err != nil {
			return nil, err
		}
		slots, err := c.backend.SearchBatch(ctx, name, td.Tokens)
		if err != nil {
			return nil, errs.FromStatus("client.QueryRange", err)
		}
		return s.Result(ctx, c.master, td, slots)

	case *rangescheme.WrapAround:
		td, err := s.Trapdoor(ctx, c.master, a, b)
		if err != nil {
			return nil, err
		}
		slots, err := c.backend.SearchBatch(ctx, name, td.Tokens)
		if err != nil {
			return nil, errs.FromStatus("client.QueryRange", err)
		}
		return s.Result(ctx, c.master, td, slots)

	case *rangescheme.DPScheme:
		q, err := s.Begin(c.master, a, b)
		if err != nil {
			return nil, err
		}
		tokens, err := q.CountTokens(ctx)
		if err != nil {
			return nil, err
		}
		counts, err := c.backend.SearchCount(ctx, name, tokens)
		if err != nil {
			return nil, errs.FromStatus("client.QueryRange", err)
		}
		if tokens, err = q.SlotsTokens(ctx, counts); err != nil {
			return nil, err
		}
		slots, err := c.backend.SearchSlots(ctx, name, tokens)
		if err != nil {
			return nil, errs.FromStatus("client.QueryRange", err)
		}
		return q.Resolve(ctx, slots)

	default:
		return nil, errs.Errorf("client.QueryRange", errs.ErrInvalidState, "unsupported range scheme %s", s.Name())
	}
}
