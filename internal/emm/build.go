package emm

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/cuckoo"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

// Domains separate the tree-PRF inputs of different sections.
const (
	domainValues   = "values"
	domainCounters = "counters"
)

// record is one (label, value) pair on its way into a table.
type record struct {
	label Label
	value []byte
}

// labelPoint is the fixed-length, prefix-free tree-PRF input for label.
func labelPoint(domain string, seed []byte, label Label) []byte {
	return crypto.Digest([]byte(domain), seed, crypto.LengthPrefixed([]byte(label)))[:16]
}

// delegate returns the token from which every slot position of label
// within a section follows.
func delegate(ggmKey []byte, domain string, seed []byte, label Label) []byte {
	return crypto.GGMDelegate(ggmKey, labelPoint(domain, seed, label))
}

// expand computes the candidate slots of the i-th entry under token.
func expand(token []byte, i, tableSize int) [2]int {
	var pos [2]int
	for t := range pos {
		suffix := crypto.Concat(crypto.Uint32Bytes(uint32(i)), []byte{byte(t)})
		pos[t] = crypto.ReduceMod(crypto.GGMExtend(token, suffix), tableSize)
	}
	return pos
}

// buildSection places and encrypts mm under domain.
func buildSection(ctx context.Context, cfg Config, keys *crypto.Keys, domain string, mm Multimap) (*index.Section, int, error) {
	c, err := crypto.NewCipher(keys.Enc)
	if err != nil {
		return nil, 0, err
	}
	workers := cfg.workers()
	tbl, err := cuckoo.BuildWithRetry(ctx, cfg.Cuckoo, mm.Rows(), place(keys.GGM, domain, mm, workers), cfg.log())
	if err != nil {
		return nil, 0, err
	}
	size := entrySize(mm)
	sec, err := seal(ctx, tbl, c, size, workers)
	if err != nil {
		return nil, 0, err
	}
	return sec, size, nil
}

// place computes positions for every value of every label. Labels are
// hashed concurrently; each worker writes its own range of items.
func place(ggmKey []byte, domain string, mm Multimap, workers int) cuckoo.PlaceFunc[record] {
	labels := mm.Labels()
	offsets := make([]int, len(labels)+1)
	for i, l := range labels {
		offsets[i+1] = offsets[i] + len(mm[l])
	}

	return func(ctx context.Context, seed []byte, tableSize int) ([]cuckoo.Item[record], error) {
		items := make([]cuckoo.Item[record], offsets[len(labels)])

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for li, label := range labels {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				token := delegate(ggmKey, domain, seed, label)
				for i, v := range mm[label] {
					items[offsets[li]+i] = cuckoo.Item[record]{
						Value: record{label: label, value: v},
						Pos:   expand(token, i, tableSize),
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return items, nil
	}
}

// seal encrypts a built table into a section. Empty slots and the unused
// stash capacity are filled with dummies, so every slot holds a ciphertext
// of the same length. Workers encrypt disjoint slot ranges.
func seal(ctx context.Context, tbl *cuckoo.Table[record], c *crypto.Cipher, size, workers int) (*index.Section, error) {
	sizing := tbl.Sizing()
	sec := index.NewSection(tbl.Seed(), sizing.TableSize, sizing.StashCapacity)
	stash := tbl.Stash()
	dummy := make([]byte, size)

	total := 2*sizing.TableSize + sizing.StashCapacity
	target := func(i int) (*index.Slot, *record) {
		switch {
		case i < sizing.TableSize:
			if r, ok := tbl.Slot(0, i); ok {
				return &sec.Tables[0][i], &r
			}
			return &sec.Tables[0][i], nil
		case i < 2*sizing.TableSize:
			j := i - sizing.TableSize
			if r, ok := tbl.Slot(1, j); ok {
				return &sec.Tables[1][j], &r
			}
			return &sec.Tables[1][j], nil
		default:
			j := i - 2*sizing.TableSize
			if j < len(stash) {
				return &sec.Stash[j], &stash[j]
			}
			return &sec.Stash[j], nil
		}
	}

	if workers < 1 {
		workers = 1
	}
	chunk := (total + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < total; start += chunk {
		end := min(start+chunk, total)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				slot, r := target(i)
				pt := dummy
				if r != nil {
					var err error
					if pt, err = encodeEntry(r.label, r.value, size); err != nil {
						return err
					}
				}
				ct, err := c.Seal(pt)
				if err != nil {
					return fmt.Errorf("failed to encrypt slot %d: %w", i, err)
				}
				*slot = index.Slot{IV: ct.IV, Data: ct.Data}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sec, nil
}

// collect gathers the slot pairs for count entries of token plus the stash.
// The result has 2*count + stash slots regardless of how many are real.
func collect(sec *index.Section, token []byte, count int) []index.Slot {
	out := make([]index.Slot, 0, 2*count+len(sec.Stash))
	for i := 0; i < count; i++ {
		pos := expand(token, i, sec.TableSize)
		out = append(out, sec.Tables[0][pos[0]], sec.Tables[1][pos[1]])
	}
	return append(out, sec.Stash...)
}

// collectPositions gathers explicit slot pairs plus the stash.
func collectPositions(sec *index.Section, positions [][2]int) ([]index.Slot, error) {
	out := make([]index.Slot, 0, 2*len(positions)+len(sec.Stash))
	for _, pos := range positions {
		for t, p := range pos {
			if p < 0 || p >= sec.TableSize {
				return nil, errs.Errorf("emm.Search", errs.ErrInvalidParameter, "position %d out of range [0,%d)", p, sec.TableSize)
			}
			out = append(out, sec.Tables[t][p])
		}
	}
	return append(out, sec.Stash...), nil
}

// open decrypts slots and returns the values stored under label. Duplicate
// slots, which occur when two entries of a label hash to the same cell, are
// read once. Any authentication failure aborts the whole call.
func open(c *crypto.Cipher, label Label, slots []index.Slot) ([][]byte, error) {
	seen := make(map[string]struct{}, len(slots))
	var values [][]byte
	for _, s := range slots {
		if s.IsEmpty() {
			continue
		}
		id := string(s.IV) + string(s.Data)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		pt, err := c.Open(&crypto.Ciphertext{IV: s.IV, Data: s.Data})
		if err != nil {
			return nil, err
		}
		l, v, isReal, err := decodeEntry(pt)
		if err != nil {
			return nil, err
		}
		if isReal && l == label {
			values = append(values, v)
		}
	}
	return values, nil
}

// encodeCount and decodeCount frame a multiplicity as an entry value.
func encodeCount(n int) []byte {
	return crypto.Uint64Bytes(uint64(n))
}

func decodeCount(b []byte) (int, error) {
	if len(b) != 8 {
		return 0, errs.Errorf("emm.decodeCount", errs.ErrInvalidParameter, "count must be 8 bytes, got %d", len(b))
	}
	return int(binary.BigEndian.Uint64(b)), nil
}
