package brc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// checkPartition verifies the cover is an exact, ordered, non-overlapping
// partition of [a, b] by aligned nodes.
func checkPartition(t *testing.T, nodes []Node, a, b uint64) {
	t.Helper()
	next := a
	for _, n := range nodes {
		if n.Lo != next {
			t.Fatalf("Cover gap or overlap at %d: node %s", next, n)
		}
		if n.Size() != uint64(1)<<n.Level {
			t.Fatalf("Node %s does not match level %d", n, n.Level)
		}
		if n.Lo%n.Size() != 0 {
			t.Fatalf("Node %s is not aligned", n)
		}
		next = n.Hi + 1
	}
	if next != b+1 {
		t.Fatalf("Cover ends at %d, want %d", next-1, b)
	}
}

func TestCover_Domain16(t *testing.T) {
	nodes, err := Cover(16, 3, 9)
	if err != nil {
		t.Fatalf("Cover failed: %v", err)
	}
	checkPartition(t, nodes, 3, 9)
	if len(nodes) > 8 {
		t.Errorf("Expected at most 8 nodes, got %d", len(nodes))
	}

	want := []Node{
		{Lo: 3, Hi: 3, Level: 0},
		{Lo: 4, Hi: 7, Level: 2},
		{Lo: 8, Hi: 9, Level: 1},
	}
	if diff := cmp.Diff(want, nodes); diff != "" {
		t.Errorf("Cover mismatch (-want +got):\n%s", diff)
	}
}

func TestCover_FullDomainIsRoot(t *testing.T) {
	nodes, err := Cover(16, 0, 15)
	if err != nil {
		t.Fatalf("Cover failed: %v", err)
	}
	if diff := cmp.Diff([]Node{{Lo: 0, Hi: 15, Level: 4}}, nodes); diff != "" {
		t.Errorf("Cover mismatch (-want +got):\n%s", diff)
	}
}

func TestCover_SinglePoint(t *testing.T) {
	nodes, err := Cover(16, 7, 7)
	if err != nil {
		t.Fatalf("Cover failed: %v", err)
	}
	if diff := cmp.Diff([]Node{{Lo: 7, Hi: 7, Level: 0}}, nodes); diff != "" {
		t.Errorf("Cover mismatch (-want +got):\n%s", diff)
	}
}

func TestCover_Domain8(t *testing.T) {
	nodes, err := Cover(8, 2, 6)
	if err != nil {
		t.Fatalf("Cover failed: %v", err)
	}
	var labels []string
	for _, n := range nodes {
		labels = append(labels, n.Label())
	}
	if diff := cmp.Diff([]string{"2-3", "4-5", "6-6"}, labels); diff != "" {
		t.Errorf("Cover mismatch (-want +got):\n%s", diff)
	}
}

func TestCover_ExhaustiveBound(t *testing.T) {
	for _, n := range []uint64{1, 2, 5, 16, 33} {
		h := Height(n)
		for a := uint64(0); a < n; a++ {
			for b := a; b < n; b++ {
				nodes, err := Cover(n, a, b)
				if err != nil {
					t.Fatalf("Cover(%d,%d,%d) failed: %v", n, a, b, err)
				}
				checkPartition(t, nodes, a, b)
				if limit := 2 * h; h > 0 && len(nodes) > limit {
					t.Fatalf("Cover(%d,%d,%d) has %d nodes, limit %d", n, a, b, len(nodes), limit)
				}
			}
		}
	}
}

func TestCover_Invalid(t *testing.T) {
	for _, tc := range []struct{ n, a, b uint64 }{
		{16, 9, 3},
		{16, 0, 16},
		{0, 0, 0},
	} {
		if _, err := Cover(tc.n, tc.a, tc.b); !errors.Is(err, errs.ErrInvalidParameter) {
			t.Errorf("Cover(%d,%d,%d): expected ErrInvalidParameter, got %v", tc.n, tc.a, tc.b, err)
		}
	}
}

func TestAncestors(t *testing.T) {
	path, err := Ancestors(16, 5)
	if err != nil {
		t.Fatalf("Ancestors failed: %v", err)
	}
	want := []Node{
		{Lo: 5, Hi: 5, Level: 0},
		{Lo: 4, Hi: 5, Level: 1},
		{Lo: 4, Hi: 7, Level: 2},
		{Lo: 0, Hi: 7, Level: 3},
		{Lo: 0, Hi: 15, Level: 4},
	}
	if diff := cmp.Diff(want, path); diff != "" {
		t.Errorf("Ancestors mismatch (-want +got):\n%s", diff)
	}
}

func TestBlockedRange(t *testing.T) {
	lo, hi, err := BlockedRange(16, 3, 9, 4)
	if err != nil {
		t.Fatalf("BlockedRange failed: %v", err)
	}
	if lo != 0 || hi != 11 {
		t.Errorf("Expected [0,11], got [%d,%d]", lo, hi)
	}

	lo, hi, err = BlockedRange(10, 7, 9, 4)
	if err != nil {
		t.Fatalf("BlockedRange failed: %v", err)
	}
	if lo != 4 || hi != 9 {
		t.Errorf("Expected [4,9] clamped to domain, got [%d,%d]", lo, hi)
	}

	if _, _, err := BlockedRange(16, 1, 2, 0); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
}
