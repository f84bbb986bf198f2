package server

import (
	"context"
	"fmt"
	"testing"

	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
)

// memCatalog is an unreplicated Catalog for benchmarks.
type memCatalog map[string]*index.Index

func (m memCatalog) SaveIndex(name string, idx *index.Index) error {
	m[name] = idx
	return nil
}

func (m memCatalog) LoadIndex(name string) (*index.Index, error) {
	idx, ok := m[name]
	if !ok {
		return nil, errs.Errorf("memCatalog.LoadIndex", errs.ErrNotFound, "index %q", name)
	}
	return idx, nil
}

func (m memCatalog) DeleteIndex(name string) error {
	delete(m, name)
	return nil
}

func (m memCatalog) ListIndexes() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

func benchmarkSearch(b *testing.B, builder emm.EMM) {
	ctx := context.Background()
	mm := make(emm.Multimap)
	for i := 0; i < 1000; i++ {
		label := emm.Label(fmt.Sprintf("label-%d", i%100))
		mm[label] = append(mm[label], []byte(fmt.Sprintf("value-%d", i)))
	}

	master, err := crypto.GenerateKey()
	if err != nil {
		b.Fatalf("GenerateKey failed: %v", err)
	}
	idx, err := builder.Setup(ctx, master, mm)
	if err != nil {
		b.Fatalf("Setup failed: %v", err)
	}
	server := NewServer(memCatalog{}, nil, nil)
	if err := server.Publish(ctx, "bench", idx); err != nil {
		b.Fatalf("Publish failed: %v", err)
	}
	tok, err := builder.Token(master, "label-7")
	if err != nil {
		b.Fatalf("Token failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := server.Search(ctx, "bench", tok); err != nil {
			b.Fatalf("Search failed: %v", err)
		}
	}
}

func BenchmarkSearch_Basic(b *testing.B) {
	benchmarkSearch(b, emm.NewBasic(emm.DefaultConfig(emm.HidingNone)))
}

func BenchmarkSearch_VolumeHiding(b *testing.B) {
	benchmarkSearch(b, emm.NewVolumeHiding(emm.DefaultConfig(emm.HidingPadToMax)))
}

func BenchmarkSearch_VolumeHidingOptimised(b *testing.B) {
	benchmarkSearch(b, emm.NewVolumeHidingOptimised(emm.DefaultConfig(emm.HidingPadToMax)))
}
