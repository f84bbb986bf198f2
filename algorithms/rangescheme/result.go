package rangescheme

import (
	"github.com/google/btree"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

// item orders records by position then ID. seq keeps identical records
// distinct.
type item struct {
	Record
	seq int
}

func lessItem(a, b item) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	return a.seq < b.seq
}

// Result is the answer to one range query.
type Result struct {
	// Lo and Hi are the requested bounds.
	Lo, Hi    uint64
	QueryType QueryType

	set *btree.BTreeG[item]
}

func newResult(lo, hi uint64, qt QueryType) *Result {
	return &Result{
		Lo:        lo,
		Hi:        hi,
		QueryType: qt,
		set:       btree.NewG[item](16, lessItem),
	}
}

// merge decodes the values of every cover node and keeps records inside
// [Lo, Hi]. Records outside come from widened blocks.
func (r *Result) merge(perNode [][][]byte) error {
	for _, values := range perNode {
		for _, v := range values {
			rec, err := UnmarshalRecord(v)
			if err != nil {
				return err
			}
			if rec.Position < r.Lo || rec.Position > r.Hi {
				continue
			}
			r.set.ReplaceOrInsert(item{Record: rec, seq: r.set.Len()})
		}
	}
	return nil
}

// Records returns the matching records in position order.
func (r *Result) Records() []Record {
	out := make([]Record, 0, r.set.Len())
	r.set.Ascend(func(it item) bool {
		out = append(out, it.Record)
		return true
	})
	return out
}

// Len returns the number of matching records.
func (r *Result) Len() int {
	return r.set.Len()
}

// Exists reports whether any record lies in the range.
func (r *Result) Exists() bool {
	return r.set.Len() > 0
}

// Weights returns the summed weight per position and the overall total.
func (r *Result) Weights() (map[uint64]int64, int64, error) {
	if r.QueryType != WeightedQuery {
		return nil, 0, errs.Errorf("Result.Weights", errs.ErrInvalidState, "index was built for %s queries", r.QueryType)
	}
	weights := make(map[uint64]int64)
	var total int64
	r.set.Ascend(func(it item) bool {
		weights[it.Position] += it.Weight
		total += it.Weight
		return true
	})
	return weights, total, nil
}
