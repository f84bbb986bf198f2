package cuckoo

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/logging"
)

// SeedSize is the length of the per-attempt hash seed.
const SeedSize = 32

// Item is a value with its candidate position in each table.
type Item[T any] struct {
	Value T
	Pos   [2]int
}

// Table is a built cuckoo table. It is read-only after Build.
type Table[T any] struct {
	sizing    Sizing
	seed      []byte
	slots     [2][]Item[T]
	used      [2][]bool
	stash     []Item[T]
	count     int
	evictions int
}

// Build inserts items in order into empty tables. It returns
// errs.ErrCapacityExceeded when an eviction chain overflows a full stash.
func Build[T any](items []Item[T], sizing Sizing) (*Table[T], error) {
	if sizing.TableSize <= 0 {
		return nil, errs.Errorf("cuckoo.Build", errs.ErrInvalidParameter, "table size must be > 0, got %d", sizing.TableSize)
	}

	t := &Table[T]{sizing: sizing}
	for i := range t.slots {
		t.slots[i] = make([]Item[T], sizing.TableSize)
		t.used[i] = make([]bool, sizing.TableSize)
	}

	for _, it := range items {
		if err := t.insert(it); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table[T]) insert(it Item[T]) error {
	for i, p := range it.Pos {
		if p < 0 || p >= t.sizing.TableSize {
			return errs.Errorf("cuckoo.insert", errs.ErrInvalidParameter, "position %d in table %d out of range [0,%d)", p, i, t.sizing.TableSize)
		}
	}

	table := 0
	for chain := 0; chain <= t.sizing.MaxEvictions; chain++ {
		p := it.Pos[table]
		if !t.used[table][p] {
			t.slots[table][p] = it
			t.used[table][p] = true
			t.count++
			return nil
		}
		// Evict the occupant and move it to its slot in the other table.
		it, t.slots[table][p] = t.slots[table][p], it
		t.evictions++
		table = 1 - table
	}

	if len(t.stash) >= t.sizing.StashCapacity {
		return errs.Errorf("cuckoo.insert", errs.ErrCapacityExceeded, "stash full at %d after %d evictions", len(t.stash), t.sizing.MaxEvictions)
	}
	t.stash = append(t.stash, it)
	t.count++
	return nil
}

// Sizing returns the geometry the table was built with.
func (t *Table[T]) Sizing() Sizing { return t.sizing }

// Seed returns the hash seed of the successful attempt, if any.
func (t *Table[T]) Seed() []byte { return t.seed }

// Len returns the number of stored items.
func (t *Table[T]) Len() int { return t.count }

// Evictions returns the total number of evictions during the build.
func (t *Table[T]) Evictions() int { return t.evictions }

// Slot returns the occupant of slot i in table, if any.
func (t *Table[T]) Slot(table, i int) (T, bool) {
	var zero T
	if table < 0 || table > 1 || i < 0 || i >= t.sizing.TableSize || !t.used[table][i] {
		return zero, false
	}
	return t.slots[table][i].Value, true
}

// Stash returns the values in the stash in insertion order.
func (t *Table[T]) Stash() []T {
	out := make([]T, len(t.stash))
	for i, it := range t.stash {
		out[i] = it.Value
	}
	return out
}

// Lookup checks both candidate slots and then the stash for a value that
// satisfies match. Absence is a miss, not an error.
func (t *Table[T]) Lookup(pos [2]int, match func(T) bool) (T, bool) {
	for table, p := range pos {
		if v, ok := t.Slot(table, p); ok && match(v) {
			return v, true
		}
	}
	for _, it := range t.stash {
		if match(it.Value) {
			return it.Value, true
		}
	}
	var zero T
	return zero, false
}

// PlaceFunc computes every item's positions for one build attempt.
type PlaceFunc[T any] func(ctx context.Context, seed []byte, tableSize int) ([]Item[T], error)

// BuildWithRetry resolves the sizing for n items and builds until an attempt
// succeeds. Each attempt gets a fresh seed and empty tables; after
// MaxAttempts overflows it fails with errs.ErrBuildFailure.
func BuildWithRetry[T any](ctx context.Context, p Params, n int, place PlaceFunc[T], log logrus.FieldLogger) (*Table[T], error) {
	log = logging.OrDiscard(log)
	sizing, err := p.Resolve(n)
	if err != nil {
		return nil, err
	}
	attempts := p.withDefaults().MaxAttempts

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		seed := make([]byte, SeedSize)
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return nil, fmt.Errorf("failed to generate seed: %w", err)
		}

		items, err := place(ctx, seed, sizing.TableSize)
		if err != nil {
			return nil, err
		}

		t, err := Build(items, sizing)
		if errors.Is(err, errs.ErrCapacityExceeded) {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"items":   n,
				"table":   sizing.TableSize,
				"stash":   sizing.StashCapacity,
			}).Warn("cuckoo build overflowed, retrying with a new seed")
			last = err
			continue
		}
		if err != nil {
			return nil, err
		}

		t.seed = seed
		log.WithFields(logrus.Fields{
			"attempt":   attempt,
			"items":     n,
			"table":     sizing.TableSize,
			"stash":     len(t.stash),
			"evictions": t.evictions,
		}).Debug("cuckoo build complete")
		return t, nil
	}

	return nil, errs.E("cuckoo.BuildWithRetry", fmt.Errorf("%w after %d attempts: %w", errs.ErrBuildFailure, attempts, last))
}
