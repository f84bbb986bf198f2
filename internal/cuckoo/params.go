// Package cuckoo implements two-table cuckoo hashing with a stash. Items
// carry both candidate positions, computed by the caller from its own keyed
// hash, so the same tables serve search-token addressed and tag addressed
// layouts.
package cuckoo

import (
	"math"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

const (
	DefaultLoadFactor      = 0.4
	DefaultFailureExponent = 40
	DefaultMaxAttempts     = 8

	// MaxStash bounds the stash regardless of the failure target.
	MaxStash = 64
)

// Params configures table sizing. Zero fields take defaults; configured
// eviction and stash bounds are raised when the failure target needs more.
type Params struct {
	// LoadFactor is n / (2m) and must lie in (0, 0.5).
	LoadFactor float64 `yaml:"load_factor" json:"load_factor"`

	// MaxEvictions bounds one insertion's eviction chain.
	MaxEvictions int `yaml:"max_eviction_chain_length" json:"max_eviction_chain_length"`

	// StashCapacity bounds the overflow stash.
	StashCapacity int `yaml:"stash_capacity" json:"stash_capacity"`

	// FailureExponent k targets a build failure probability of at most 2^-k.
	FailureExponent int `yaml:"failure_exponent" json:"failure_exponent"`

	// MaxAttempts bounds rebuilds with fresh seeds.
	MaxAttempts int `yaml:"max_build_attempts" json:"max_build_attempts"`
}

// DefaultParams returns the defaults for every field.
func DefaultParams() Params {
	return Params{
		LoadFactor:      DefaultLoadFactor,
		FailureExponent: DefaultFailureExponent,
		MaxAttempts:     DefaultMaxAttempts,
	}
}

func (p Params) withDefaults() Params {
	if p.LoadFactor == 0 {
		p.LoadFactor = DefaultLoadFactor
	}
	if p.FailureExponent == 0 {
		p.FailureExponent = DefaultFailureExponent
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Validate checks the parameters after defaults are applied.
func (p Params) Validate() error {
	p = p.withDefaults()
	if !(p.LoadFactor > 0 && p.LoadFactor < 0.5) {
		return errs.Errorf("cuckoo.Validate", errs.ErrInvalidParameter, "load_factor must be in (0, 0.5), got %v", p.LoadFactor)
	}
	if p.MaxEvictions < 0 {
		return errs.Errorf("cuckoo.Validate", errs.ErrInvalidParameter, "max_eviction_chain_length must be >= 0, got %d", p.MaxEvictions)
	}
	if p.StashCapacity < 0 || p.StashCapacity > MaxStash {
		return errs.Errorf("cuckoo.Validate", errs.ErrInvalidParameter, "stash_capacity must be in [0, %d], got %d", MaxStash, p.StashCapacity)
	}
	if p.FailureExponent < 0 {
		return errs.Errorf("cuckoo.Validate", errs.ErrInvalidParameter, "failure_exponent must be >= 0, got %d", p.FailureExponent)
	}
	if p.MaxAttempts < 0 {
		return errs.Errorf("cuckoo.Validate", errs.ErrInvalidParameter, "max_build_attempts must be >= 0, got %d", p.MaxAttempts)
	}
	return nil
}

// Sizing is the concrete geometry for n items.
type Sizing struct {
	TableSize     int
	MaxEvictions  int
	StashCapacity int
}

// Resolve computes the sizing for n items. With a stash of s the failure
// probability is O(n^-(s+1)), so s+1 >= k/log2(n) meets the 2^-k target.
func (p Params) Resolve(n int) (Sizing, error) {
	if err := p.Validate(); err != nil {
		return Sizing{}, err
	}
	if n < 0 {
		return Sizing{}, errs.Errorf("cuckoo.Resolve", errs.ErrInvalidParameter, "item count must be >= 0, got %d", n)
	}
	p = p.withDefaults()

	logN := math.Log2(float64(n))
	if logN < 1 {
		logN = 1
	}

	s := Sizing{
		TableSize:     int(math.Ceil(float64(n) / (2 * p.LoadFactor))),
		MaxEvictions:  int(math.Ceil(5 * logN)),
		StashCapacity: int(math.Ceil(float64(p.FailureExponent)/logN)) - 1,
	}
	if s.TableSize < 1 {
		s.TableSize = 1
	}
	if p.MaxEvictions > s.MaxEvictions {
		s.MaxEvictions = p.MaxEvictions
	}
	if p.StashCapacity > s.StashCapacity {
		s.StashCapacity = p.StashCapacity
	}
	if s.StashCapacity < 1 {
		s.StashCapacity = 1
	}
	if s.StashCapacity > MaxStash {
		s.StashCapacity = MaxStash
	}
	return s, nil
}
