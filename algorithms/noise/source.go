package noise

import (
	"encoding/binary"

	"github.com/google/differential-privacy/go/v2/rand"

	"github.com/mundrapranay/silhouette-ste/internal/crypto"
)

// Source supplies the uniform draws a sampler consumes.
type Source interface {
	// Uniform returns a value in the open interval (0, 1).
	Uniform() float64
	// Sign returns -1 or +1.
	Sign() float64
}

// KeyedSource is a deterministic Source: the i-th draw is a PRF of
// (key, label, i), so the same key and label replay the same stream.
type KeyedSource struct {
	key     []byte
	label   []byte
	counter uint64
}

// NewKeyedSource creates a stream bound to key and label.
func NewKeyedSource(key, label []byte) *KeyedSource {
	return &KeyedSource{key: key, label: label}
}

func (s *KeyedSource) next() uint64 {
	out := crypto.PRF(s.key, []byte("noise-stream"), crypto.LengthPrefixed(s.label), crypto.Uint64Bytes(s.counter))
	s.counter++
	return binary.BigEndian.Uint64(out[:8])
}

// Uniform returns a draw in (0, 1).
func (s *KeyedSource) Uniform() float64 {
	return unitInterval(s.next())
}

// Sign returns -1 or +1.
func (s *KeyedSource) Sign() float64 {
	if s.next()&1 == 0 {
		return -1
	}
	return 1
}

// unitInterval maps the top 52 bits of x to the open interval (0, 1).
func unitInterval(x uint64) float64 {
	return (float64(x>>12) + 0.5) / (1 << 52)
}

// dpSource draws from the secure generator of the differential-privacy library.
type dpSource struct{}

func (dpSource) Uniform() float64 { return rand.Uniform() }

func (dpSource) Sign() float64 { return rand.Sign() }

// RandomSource returns a non-deterministic Source.
func RandomSource() Source {
	return dpSource{}
}
