package crypto

import (
	"encoding/binary"
	"math/big"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// Uint64Bytes encodes v as 8 big-endian bytes.
func Uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// BytesUint64 decodes 8 big-endian bytes.
func BytesUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errs.Errorf("BytesUint64", errs.ErrInvalidParameter, "need 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Uint32Bytes encodes v as 4 big-endian bytes.
func Uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Concat joins parts into a new slice.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// LengthPrefixed joins parts with a 4-byte length before each, so distinct
// part lists never encode to the same bytes.
func LengthPrefixed(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += 4 + len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}

// ReduceMod interprets b as an unsigned big-endian integer and reduces it
// modulo m. m must be positive.
func ReduceMod(b []byte, m int) int {
	if m <= 1 {
		return 0
	}
	v := new(big.Int).SetBytes(b)
	return int(v.Mod(v, big.NewInt(int64(m))).Int64())
}

// Xor returns a XOR b. The slices must have equal length.
func Xor(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, errs.Errorf("Xor", errs.ErrInvalidParameter, "length mismatch %d != %d", len(a), len(b))
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}
