package noise

import (
	"math"
	"testing"

	"github.com/mundrapranay/silhouette-ste/internal/crypto"
)

func TestSampleNoise_GeometricDeterministic(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	p := Params{Epsilon: 1, Sensitivity: 2, Shift: 6, Mechanism: Geometric}

	a, err := SampleNoise(key, []byte("label"), p)
	if err != nil {
		t.Fatalf("SampleNoise failed: %v", err)
	}
	b, err := SampleNoise(key, []byte("label"), p)
	if err != nil {
		t.Fatalf("SampleNoise failed: %v", err)
	}
	if a != b {
		t.Errorf("Expected replay %d, got %d", a, b)
	}
	if a < 0 {
		t.Errorf("Expected clamped noise, got %d", a)
	}
}

func TestGeometricCDF(t *testing.T) {
	p := Params{Epsilon: 1, Sensitivity: 1, Shift: 5, Mechanism: Geometric}
	if got := CDF(p, -1); got != 0 {
		t.Errorf("Expected CDF(-1) = 0, got %v", got)
	}
	prev := 0.0
	for k := int64(0); k < 40; k++ {
		c := CDF(p, k)
		if c < prev || c > 1 {
			t.Fatalf("CDF not monotone in [0,1] at %d: %v after %v", k, c, prev)
		}
		prev = c
	}
	if prev < 0.999999 {
		t.Errorf("Expected CDF to approach 1, got %v", prev)
	}

	const n = 20000
	below := 0
	src := RandomSource()
	for i := 0; i < n; i++ {
		v, err := Sample(src, p)
		if err != nil {
			t.Fatalf("Sample failed: %v", err)
		}
		if v <= p.Shift {
			below++
		}
	}
	want := CDF(p, p.Shift)
	if got := float64(below) / n; math.Abs(got-want) > 0.02 {
		t.Errorf("Expected empirical Pr[noise <= shift] near %v, got %v", want, got)
	}
}

func TestParams_UnknownMechanism(t *testing.T) {
	p := Params{Epsilon: 1, Sensitivity: 1, Mechanism: "gaussian"}
	if err := p.Validate(); err == nil {
		t.Error("Expected error for unknown mechanism")
	}
}

func TestTwoSidedGeometric_Symmetric(t *testing.T) {
	const n = 5000
	geom := NewGeomDistribution(0.5, RandomSource())

	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(geom.TwoSidedGeometric())
	}
	mean := sum / n
	// Variance is 2e^-λ/(1-e^-λ)^2 ≈ 7.7, so the sample mean has sd ≈ 0.04.
	if math.Abs(mean) > 0.3 {
		t.Errorf("Expected mean near 0, got %v", mean)
	}
}

func TestKeyedSource_Range(t *testing.T) {
	src := NewKeyedSource([]byte("key"), []byte("label"))
	for i := 0; i < 1000; i++ {
		u := src.Uniform()
		if u <= 0 || u >= 1 {
			t.Fatalf("Uniform out of (0,1): %v", u)
		}
	}
	if unitInterval(math.MaxUint64) >= 1 || unitInterval(0) <= 0 {
		t.Error("unitInterval must stay inside the open interval")
	}
}
