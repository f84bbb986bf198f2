package rangescheme

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

func TestQuerySpace_Enumeration(t *testing.T) {
	q := querySpace{n: 8, t: 2}
	if got := q.normalCount(); got != 8+7+6 {
		t.Fatalf("Expected 21 normal ranges, got %d", got)
	}
	if got := q.wrapCount(); got != 1+2 {
		t.Fatalf("Expected 3 wrap-around ranges, got %d", got)
	}

	seen := make(map[span]bool)
	for k := uint64(0); k < q.normalCount(); k++ {
		s := q.normal(k)
		if s.wraps() || s.End >= q.n || s.End-s.Start > q.t {
			t.Fatalf("normal(%d) = %v out of the query space", k, s)
		}
		seen[s] = true
	}
	if len(seen) != int(q.normalCount()) {
		t.Errorf("Expected %d distinct normal ranges, got %d", q.normalCount(), len(seen))
	}

	var wraps []span
	for k := uint64(0); k < q.wrapCount(); k++ {
		wraps = append(wraps, q.wrap(k))
	}
	want := []span{{Start: 7, End: 0}, {Start: 6, End: 0}, {Start: 7, End: 1}}
	if diff := cmp.Diff(want, wraps); diff != "" {
		t.Errorf("Wrap-around ranges mismatch (-want +got):\n%s", diff)
	}
	for _, s := range wraps {
		if got := len(s.positions(q.n)); got < 2 || uint64(got) > q.t+1 {
			t.Errorf("Wrap-around range %v holds %d positions", s, got)
		}
	}
}

func TestQuerySpace_SmallDomain(t *testing.T) {
	q := querySpace{n: 1, t: 4}
	if q.normalCount() != 1 || q.wrapCount() != 0 {
		t.Fatalf("Expected a single normal range, got %d normal and %d wrap-around", q.normalCount(), q.wrapCount())
	}
	if s := q.normal(0); s != (span{}) {
		t.Errorf("Expected [0,0], got %v", s)
	}
}

// fixedFake makes the scheme pick the wrap-around range [15, 1] as its
// companion.
func fixedFake(s *WrapAround) {
	s.flip = func() float64 { return 0 }
	s.draw = func(n int64) int64 {
		if n == int64(querySpace{n: s.cfg.DomainSize, t: s.t}.wrapCount()) {
			return 2 // d = 2, e = 1
		}
		return n - 1
	}
}

func TestWrapAround_FakeLeavesAreDropped(t *testing.T) {
	ctx := context.Background()
	master := newKey(t)
	records := append([]Record{{Position: 0, ID: 5, Weight: 1}, {Position: 15, ID: 6, Weight: 2}}, testRecords...)

	s := NewWrapAround(testConfig(WeightedQuery), emm.NewBasic(emm.DefaultConfig(emm.HidingNone)), 3)
	fixedFake(s)
	idx, err := s.Setup(ctx, master, records)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	td, err := s.Trapdoor(ctx, master, 4, 6)
	if err != nil {
		t.Fatalf("Trapdoor failed: %v", err)
	}
	var leaves []uint64
	for _, n := range td.Nodes {
		if !n.IsLeaf() {
			t.Fatalf("Expected only leaves, got %v", n)
		}
		leaves = append(leaves, n.Lo)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i] < leaves[j] })
	if diff := cmp.Diff([]uint64{0, 1, 4, 5, 6, 15}, leaves); diff != "" {
		t.Fatalf("Leaves mismatch (-want +got):\n%s", diff)
	}

	slots, err := s.Search(ctx, idx, td.Tokens)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	res, err := s.Result(ctx, master, td, slots)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	want := []Record{{Position: 5, ID: 2, Weight: 20}, {Position: 5, ID: 3, Weight: 30}}
	if diff := cmp.Diff(want, res.Records()); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}
}

func TestWrapAround_RandomFakes(t *testing.T) {
	ctx := context.Background()
	master := newKey(t)
	s := NewWrapAround(testConfig(BooleanQuery), emm.NewVolumeHidingOptimised(emm.DefaultConfig(emm.HidingPadToMax)), 4)
	idx, err := s.Setup(ctx, master, testRecords)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	want := []Record{{Position: 5, ID: 2}, {Position: 5, ID: 3}}
	for i := 0; i < 20; i++ {
		td, err := s.Trapdoor(ctx, master, 3, 6)
		if err != nil {
			t.Fatalf("Trapdoor failed: %v", err)
		}
		if n := len(td.Nodes); n < 4 || n > 4+5 {
			t.Fatalf("Expected 4 real plus at most 5 fake leaves, got %d", n)
		}
		slots, err := s.Search(ctx, idx, td.Tokens)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		res, err := s.Result(ctx, master, td, slots)
		if err != nil {
			t.Fatalf("Result failed: %v", err)
		}
		if diff := cmp.Diff(want, res.Records()); diff != "" {
			t.Fatalf("Records mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestWrapAround_SpanLimit(t *testing.T) {
	ctx := context.Background()
	master := newKey(t)
	s := NewWrapAround(testConfig(BooleanQuery), emm.NewBasic(emm.DefaultConfig(emm.HidingNone)), 2)
	idx, err := s.Setup(ctx, master, testRecords)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := s.Query(ctx, master, idx, 2, 5); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for span 3 > 2, got %v", err)
	}
	if _, err := s.Query(ctx, master, idx, 15, 16); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for b >= N, got %v", err)
	}
	if _, err := s.Query(ctx, master, idx, 3, 5); err != nil {
		t.Errorf("Query failed: %v", err)
	}
}
