package crypto

import (
	"golang.org/x/crypto/sha3"
)

// The GGM tree PRF walks the input bits most significant first. Each step
// expands the current node with SHAKE256 to twice its length and keeps the
// left half for a 0 bit and the right half for a 1 bit. A node reached by a
// prefix is a token that evaluates the PRF on every extension of the prefix
// and nothing else.

func ggmStep(node []byte, bit byte) []byte {
	out := make([]byte, 2*len(node))
	sha3.ShakeSum256(out, node)
	if bit == 0 {
		return out[:len(node)]
	}
	return out[len(node):]
}

// GGMExtend continues the walk from node over every bit of suffix.
func GGMExtend(node, suffix []byte) []byte {
	cur := append([]byte(nil), node...)
	for _, b := range suffix {
		for i := 7; i >= 0; i-- {
			cur = ggmStep(cur, (b>>uint(i))&1)
		}
	}
	return cur
}

// GGMDelegate returns the token for prefix under key.
func GGMDelegate(key, prefix []byte) []byte {
	return GGMExtend(key, prefix)
}

// GGMEvaluate evaluates the tree PRF on input.
func GGMEvaluate(key, input []byte) []byte {
	return GGMExtend(key, input)
}
