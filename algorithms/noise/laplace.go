// Package noise samples the differentially private padding added to
// per-label multiplicities. Samples are derived from a PRF so that a fixed
// (key, label, params) always yields the same noise.
package noise

import (
	"math"

	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// DefaultSensitivity is the multiplicity sensitivity used when none is configured.
const DefaultSensitivity = 2.0

// Mechanism names the noise distribution.
type Mechanism string

const (
	// Laplace is continuous Laplace noise rounded to the nearest integer.
	Laplace Mechanism = "laplace"
	// Geometric is the two-sided geometric distribution, the discrete
	// analogue of Laplace.
	Geometric Mechanism = "geometric"
)

// Params configures the shifted, clamped noise distribution.
type Params struct {
	Epsilon     float64 `yaml:"epsilon" json:"epsilon"`
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity"`
	// Shift is added before clamping at zero, making truncation unlikely.
	Shift int64 `yaml:"shift" json:"shift"`
	// Mechanism defaults to Laplace.
	Mechanism Mechanism `yaml:"mechanism,omitempty" json:"mechanism,omitempty"`
}

// Validate rejects non-positive epsilon or sensitivity and unknown mechanisms.
func (p Params) Validate() error {
	if !(p.Epsilon > 0) || math.IsInf(p.Epsilon, 0) {
		return errs.Errorf("noise.Validate", errs.ErrInvalidParameter, "epsilon must be > 0, got %v", p.Epsilon)
	}
	if !(p.Sensitivity > 0) {
		return errs.Errorf("noise.Validate", errs.ErrInvalidParameter, "sensitivity must be > 0, got %v", p.Sensitivity)
	}
	if p.Shift < 0 {
		return errs.Errorf("noise.Validate", errs.ErrInvalidParameter, "shift must be >= 0, got %d", p.Shift)
	}
	switch p.Mechanism {
	case "", Laplace, Geometric:
	default:
		return errs.Errorf("noise.Validate", errs.ErrInvalidParameter, "unknown mechanism %q", p.Mechanism)
	}
	return nil
}

// Scale is the Laplace scale b = sensitivity / epsilon.
func (p Params) Scale() float64 {
	return p.Sensitivity / p.Epsilon
}

// Calibrate derives Params from the privacy budget. The shift is
// ceil(truncation * scale), capped at maxMultiplicity when that is positive,
// so padding never exceeds what full volume hiding would store.
func Calibrate(epsilon, sensitivity, truncation float64, maxMultiplicity int) (Params, error) {
	if sensitivity == 0 {
		sensitivity = DefaultSensitivity
	}
	p := Params{Epsilon: epsilon, Sensitivity: sensitivity}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	if truncation < 0 {
		return Params{}, errs.Errorf("noise.Calibrate", errs.ErrInvalidParameter, "truncation must be >= 0, got %v", truncation)
	}

	p.Shift = int64(math.Ceil(truncation * p.Scale()))
	if maxMultiplicity > 0 && p.Shift > int64(maxMultiplicity) {
		p.Shift = int64(maxMultiplicity)
	}
	return p, nil
}

// SampleNoise returns the noise for label under key. It is a pure function
// of its arguments.
func SampleNoise(key, label []byte, p Params) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if p.Mechanism == Geometric {
		return geometricNoise(NewKeyedSource(key, label), p), nil
	}
	u := unitInterval(leading64(crypto.PRF(key, []byte("laplace"), label))) - 0.5
	return clampRound(laplace(u, float64(p.Shift), p.Scale())), nil
}

// Sample draws non-keyed noise from src with the same distribution as SampleNoise.
func Sample(src Source, p Params) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if p.Mechanism == Geometric {
		return geometricNoise(src, p), nil
	}
	return clampRound(laplace(src.Uniform()-0.5, float64(p.Shift), p.Scale())), nil
}

// DummyCount draws a padded count for a row that has no label behind it.
func DummyCount(p Params) (int64, error) {
	return Sample(RandomSource(), p)
}

// CDF returns Pr[noise <= k] for the clamped, rounded distribution.
func CDF(p Params, k int64) float64 {
	if k < 0 {
		return 0
	}
	if p.Mechanism == Geometric {
		return geometricCDF(p, k)
	}
	x := float64(k) + 0.5
	mu := float64(p.Shift)
	b := p.Scale()
	if x < mu {
		return 0.5 * math.Exp((x-mu)/b)
	}
	return 1 - 0.5*math.Exp(-(x-mu)/b)
}

// laplace is the inverse CDF of Laplace(mu, b) at u in (-0.5, 0.5).
func laplace(u, mu, b float64) float64 {
	r := 1 - 2*math.Abs(u)
	if r <= 0 {
		r = math.SmallestNonzeroFloat64
	}
	sign := 1.0
	if u < 0 {
		sign = -1
	}
	return mu - b*sign*math.Log(r)
}

func clampRound(x float64) int64 {
	r := math.Round(x)
	if r <= 0 || math.IsNaN(r) {
		return 0
	}
	if r >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(r)
}

func leading64(b []byte) uint64 {
	var v uint64
	for _, c := range b[:8] {
		v = v<<8 | uint64(c)
	}
	return v
}
