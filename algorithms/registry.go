// Package algorithms assembles configured schemes from the EMM registry and
// the range scheme layer.
package algorithms

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/algorithms/common"
	"github.com/mundrapranay/silhouette-ste/algorithms/rangescheme"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// NewEMM returns the EMM named by cfg.
func NewEMM(cfg *common.SchemeConfig, log logrus.FieldLogger) (emm.Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name, err := cfg.SchemeName()
	if err != nil {
		return nil, err
	}
	return emm.Get(name, cfg.EMMConfig(log))
}

// NewRangeScheme returns the range scheme for cfg: two-round schemes get the
// DP variant, WrapAroundT selects wrap-around queries and Parallel selects
// per-node concurrency.
func NewRangeScheme(cfg *common.SchemeConfig, log logrus.FieldLogger) (rangescheme.RangeScheme, error) {
	if cfg.DomainSize == 0 {
		return nil, errs.Errorf("algorithms.NewRangeScheme", errs.ErrInvalidParameter, "domain_size is required for range schemes")
	}
	b, err := NewEMM(cfg, log)
	if err != nil {
		return nil, err
	}
	rc := cfg.RangeConfig(log)

	if tr, ok := emm.AsTwoRound(b); ok {
		if cfg.WrapAroundT > 0 {
			return nil, errs.Errorf("algorithms.NewRangeScheme", errs.ErrInvalidParameter, "wrap-around queries need a one-round scheme, got %s", b.Name())
		}
		if cfg.Parallel {
			return rangescheme.NewParallelDP(rc, tr), nil
		}
		return rangescheme.NewDP(rc, tr), nil
	}
	if e, ok := emm.AsEMM(b); ok {
		if cfg.WrapAroundT > 0 {
			return rangescheme.NewWrapAround(rc, e, cfg.WrapAroundT), nil
		}
		if cfg.Parallel {
			return rangescheme.NewParallel(rc, e), nil
		}
		return rangescheme.New(rc, e), nil
	}
	return nil, fmt.Errorf("scheme %s implements neither query protocol", b.Name())
}

// ListSchemes returns every registered EMM name.
func ListSchemes() []string {
	return emm.List()
}
