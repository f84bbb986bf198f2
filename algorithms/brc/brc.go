// Package brc computes best range covers over an implicit complete binary
// tree on the domain [0, N). Nodes are value objects generated on demand;
// the tree is never materialized.
package brc

import (
	"fmt"
	"math/bits"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// Node is the dyadic interval [Lo, Hi] at Level, where leaves are level 0.
type Node struct {
	Lo    uint64
	Hi    uint64
	Level int
}

// Label is the node identifier used as a multimap label.
func (n Node) Label() string {
	return fmt.Sprintf("%d-%d", n.Lo, n.Hi)
}

func (n Node) String() string {
	return fmt.Sprintf("[%d,%d]", n.Lo, n.Hi)
}

// Size returns the number of leaves under n.
func (n Node) Size() uint64 {
	return n.Hi - n.Lo + 1
}

// IsLeaf reports whether n is a single position.
func (n Node) IsLeaf() bool {
	return n.Lo == n.Hi
}

// Children splits n at its midpoint.
func (n Node) Children() (Node, Node) {
	mid := n.Lo + n.Size()/2
	return Node{Lo: n.Lo, Hi: mid - 1, Level: n.Level - 1},
		Node{Lo: mid, Hi: n.Hi, Level: n.Level - 1}
}

// Contains reports whether p lies in n.
func (n Node) Contains(p uint64) bool {
	return n.Lo <= p && p <= n.Hi
}

// Height returns ceil(log2 N), the level of the root.
func Height(domainSize uint64) int {
	if domainSize <= 1 {
		return 0
	}
	return bits.Len64(domainSize - 1)
}

// Root returns the root of the tree over domainSize leaves, padded to a
// power of two.
func Root(domainSize uint64) (Node, error) {
	if domainSize == 0 {
		return Node{}, errs.Errorf("brc.Root", errs.ErrInvalidParameter, "domain size must be > 0")
	}
	h := Height(domainSize)
	if h >= 64 {
		return Node{}, errs.Errorf("brc.Root", errs.ErrInvalidParameter, "domain size %d too large", domainSize)
	}
	return Node{Lo: 0, Hi: (uint64(1) << h) - 1, Level: h}, nil
}

// Cover returns the minimal set of aligned nodes partitioning [a, b],
// ordered left to right.
func Cover(domainSize, a, b uint64) ([]Node, error) {
	if err := checkRange(domainSize, a, b); err != nil {
		return nil, err
	}
	root, err := Root(domainSize)
	if err != nil {
		return nil, err
	}
	return cover(root, a, b, nil), nil
}

func cover(n Node, a, b uint64, out []Node) []Node {
	switch {
	case n.Hi < a || n.Lo > b:
		return out
	case a <= n.Lo && n.Hi <= b:
		return append(out, n)
	default:
		left, right := n.Children()
		out = cover(left, a, b, out)
		return cover(right, a, b, out)
	}
}

// Ancestors returns every node containing p, leaf first.
func Ancestors(domainSize, p uint64) ([]Node, error) {
	if err := checkRange(domainSize, p, p); err != nil {
		return nil, err
	}
	root, err := Root(domainSize)
	if err != nil {
		return nil, err
	}

	path := make([]Node, root.Level+1)
	n := root
	for {
		path[n.Level] = n
		if n.IsLeaf() {
			return path, nil
		}
		left, right := n.Children()
		if left.Contains(p) {
			n = left
		} else {
			n = right
		}
	}
}

// BlockedRange widens [a, b] to whole blocks of k positions, clamped to the
// domain, so queries only ever reveal block-aligned covers.
func BlockedRange(domainSize, a, b, k uint64) (uint64, uint64, error) {
	if err := checkRange(domainSize, a, b); err != nil {
		return 0, 0, err
	}
	if k == 0 {
		return 0, 0, errs.Errorf("brc.BlockedRange", errs.ErrInvalidParameter, "block size must be > 0")
	}
	lo := a / k * k
	hi := (b/k+1)*k - 1
	if hi >= domainSize || hi < b {
		hi = domainSize - 1
	}
	return lo, hi, nil
}

func checkRange(domainSize, a, b uint64) error {
	if domainSize == 0 {
		return errs.Errorf("brc.Cover", errs.ErrInvalidParameter, "domain size must be > 0")
	}
	if a > b {
		return errs.Errorf("brc.Cover", errs.ErrInvalidParameter, "malformed range [%d,%d]", a, b)
	}
	if b >= domainSize {
		return errs.Errorf("brc.Cover", errs.ErrInvalidParameter, "range [%d,%d] outside domain [0,%d)", a, b, domainSize)
	}
	return nil
}
