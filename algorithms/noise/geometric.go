package noise

// Sampling follows laplace_noise.go of google-dp:
// https://github.com/google/differential-privacy/tree/main/go/v2/noise
import (
	"math"
)

type GeomDistribution struct {
	lambda float64
	src    Source
}

func NewGeomDistribution(lambda float64, src Source) *GeomDistribution {
	return &GeomDistribution{
		lambda: lambda,
		src:    src,
	}
}

// geometric draws a sample drawn from a geometric distribution with parameter
//
//	p = 1 - e^-λ.
//
// It returns the number of Bernoulli trials until the first success, truncated
// to the max int64 value.
func (geom *GeomDistribution) geometric() int64 {
	if geom.src.Uniform() > -1.0*math.Expm1(-1.0*geom.lambda*math.MaxInt64) {
		return math.MaxInt64
	}

	// Binary search over (left, right]. Each iteration keeps the subinterval
	// holding the sample with probability proportional to its mass.
	var left int64 = 0              // exclusive bound
	var right int64 = math.MaxInt64 // inclusive bound

	for left+1 < right {
		// Midpoint splitting the mass of the interval roughly in half.
		mid := left - int64(math.Floor((math.Log(0.5)+math.Log1p(math.Exp(geom.lambda*float64(left-right))))/geom.lambda))
		if mid <= left {
			mid = left + 1
		} else if mid >= right {
			mid = right - 1
		}

		// q = Pr[X ≤ mid | left < X ≤ right]
		q := math.Expm1(geom.lambda*float64(left-mid)) / math.Expm1(geom.lambda*float64(left-right))
		if geom.src.Uniform() <= q {
			right = mid
		} else {
			left = mid
		}
	}
	return right
}

// TwoSidedGeometric draws from the geometric distribution mirrored at 0, the
// discrete analogue of Laplace.
func (geom *GeomDistribution) TwoSidedGeometric() int64 {
	var sample int64 = 0
	var sign int64 = -1
	// Keep 0 only with a positive sign, otherwise it would be twice as likely.
	for sample == 0 && sign == -1 {
		sample = geom.geometric() - 1
		sign = int64(geom.src.Sign())
	}
	return sample * sign
}

// geometricNoise is shift plus a two-sided geometric draw with λ = 1/scale,
// clamped at zero.
func geometricNoise(src Source, p Params) int64 {
	geom := NewGeomDistribution(1/p.Scale(), src)
	v := p.Shift + geom.TwoSidedGeometric()
	if v < 0 {
		return 0
	}
	return v
}

// geometricCDF is Pr[noise <= k] for k >= 0. With α = e^-λ the two-sided
// geometric has Pr[Z <= z] = α^|z|/(1+α) for z < 0 and 1 - α^(z+1)/(1+α)
// otherwise.
func geometricCDF(p Params, k int64) float64 {
	alpha := math.Exp(-1 / p.Scale())
	z := float64(k - p.Shift)
	if z < 0 {
		return math.Pow(alpha, -z) / (1 + alpha)
	}
	return 1 - math.Pow(alpha, z+1)/(1+alpha)
}
