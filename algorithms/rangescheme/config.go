// Package rangescheme answers interval queries over an encrypted multimap.
// Every record is inserted under each node of the implicit range tree that
// contains its position; a query [a, b] becomes one label lookup per node of
// the best range cover.
package rangescheme

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/logging"
)

// QueryType selects what a range query returns.
type QueryType string

const (
	// BooleanQuery returns the matching records.
	BooleanQuery QueryType = "boolean"
	// WeightedQuery also returns per-position weight sums.
	WeightedQuery QueryType = "weighted"
)

// Config parameterizes a range scheme.
type Config struct {
	// DomainSize is N; positions lie in [0, N).
	DomainSize uint64
	QueryType  QueryType
	// BlockSize widens every query to whole blocks. Zero disables blocking.
	BlockSize uint64
	// Workers bounds the per-node concurrency of the parallel schemes.
	// Zero means GOMAXPROCS.
	Workers int
	Log     logrus.FieldLogger
}

// Validate checks c before any cryptographic work.
func (c Config) Validate() error {
	if c.DomainSize == 0 {
		return errs.Errorf("rangescheme.Validate", errs.ErrInvalidParameter, "domain size must be > 0")
	}
	switch c.QueryType {
	case BooleanQuery, WeightedQuery:
	default:
		return errs.Errorf("rangescheme.Validate", errs.ErrInvalidParameter, "unknown query type %q", c.QueryType)
	}
	if c.Workers < 0 {
		return errs.Errorf("rangescheme.Validate", errs.ErrInvalidParameter, "workers must be >= 0, got %d", c.Workers)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (c Config) log() logrus.FieldLogger {
	return logging.OrDiscard(c.Log)
}
