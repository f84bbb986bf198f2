package cuckoo

import (
	"bytes"
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/internal/crypto"
)

// Entry is a tagged value stored in a Map.
type Entry[V any] struct {
	Tag   []byte
	Value V
}

// Map is a cuckoo table addressed by opaque tags. Slot positions are a PRF
// of the tag under a public seed, so a server holding the tables can look a
// tag up without any client key.
type Map[V any] struct {
	table *Table[Entry[V]]
}

// Positions returns the candidate slots of tag.
func Positions(seed, tag []byte, tableSize int) [2]int {
	return [2]int{
		crypto.ReduceMod(crypto.PRF(seed, tag, []byte{0}), tableSize),
		crypto.ReduceMod(crypto.PRF(seed, tag, []byte{1}), tableSize),
	}
}

// BuildMap stores entries keyed by tag. Insertion order is sorted by tag so
// a given seed always yields the same layout.
func BuildMap[V any](ctx context.Context, entries map[string]V, p Params, log logrus.FieldLogger) (*Map[V], error) {
	tags := make([]string, 0, len(entries))
	for tag := range entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	place := func(ctx context.Context, seed []byte, tableSize int) ([]Item[Entry[V]], error) {
		items := make([]Item[Entry[V]], len(tags))
		for i, tag := range tags {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			items[i] = Item[Entry[V]]{
				Value: Entry[V]{Tag: []byte(tag), Value: entries[tag]},
				Pos:   Positions(seed, []byte(tag), tableSize),
			}
		}
		return items, nil
	}

	t, err := BuildWithRetry(ctx, p, len(tags), place, log)
	if err != nil {
		return nil, err
	}
	return &Map[V]{table: t}, nil
}

// Get returns the value stored under tag.
func (m *Map[V]) Get(tag []byte) (V, bool) {
	pos := Positions(m.table.seed, tag, m.table.sizing.TableSize)
	e, ok := m.table.Lookup(pos, func(e Entry[V]) bool {
		return bytes.Equal(e.Tag, tag)
	})
	return e.Value, ok
}

// Table exposes the underlying table for export.
func (m *Map[V]) Table() *Table[Entry[V]] {
	return m.table
}

// Seed returns the public hash seed.
func (m *Map[V]) Seed() []byte {
	return m.table.seed
}
