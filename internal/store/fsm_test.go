package store

import (
	"bytes"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mundrapranay/silhouette-ste/internal/index"
)

// testIndex builds a small queryable index with one filled slot.
func testIndex(t testing.TB, scheme string) *index.Index {
	t.Helper()
	idx, err := index.FromTuples(
		index.Meta{Scheme: scheme, Multiplicity: 2, EntrySize: 32, Rows: 1},
		[]index.Header{{Section: index.SectionMain, Seed: bytes.Repeat([]byte{7}, 32), TableSize: 4, StashLen: 1}},
		[]index.Tuple{{Section: index.SectionMain, Table: index.TablePrimary, Slot: 2, Ciphertext: []byte("ct"), IV: bytes.Repeat([]byte{1}, 12)}},
	)
	if err != nil {
		t.Fatalf("FromTuples failed: %v", err)
	}
	return idx
}

func marshalIndex(t testing.TB, idx *index.Index) []byte {
	t.Helper()
	b, err := index.Marshal(idx)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return b
}

func apply(fsm *FSM, cmd Command) interface{} {
	return fsm.Apply(&raft.Log{Data: cmd.Marshal()})
}

func TestFSM_ApplyPut(t *testing.T) {
	fsm := NewFSM()
	blob := marshalIndex(t, testIndex(t, "basic"))

	if result := apply(fsm, Command{Op: OpPutIndex, Name: "orders", Index: blob}); result != nil {
		t.Fatalf("Apply returned error: %v", result)
	}

	got, ok := fsm.Get("orders")
	if !ok {
		t.Fatal("Index was not stored")
	}
	if !bytes.Equal(got, blob) {
		t.Fatal("Stored index differs from applied blob")
	}

	got[0] ^= 0xff
	again, _ := fsm.Get("orders")
	if !bytes.Equal(again, blob) {
		t.Fatal("Get must return a copy")
	}
}

func TestFSM_ApplyDelete(t *testing.T) {
	fsm := NewFSM()
	apply(fsm, Command{Op: OpPutIndex, Name: "orders", Index: marshalIndex(t, testIndex(t, "basic"))})

	if result := apply(fsm, Command{Op: OpDeleteIndex, Name: "orders"}); result != nil {
		t.Fatalf("Apply returned error: %v", result)
	}
	if _, ok := fsm.Get("orders"); ok {
		t.Fatal("Index should be deleted")
	}
}

func TestFSM_ApplyRejectsBadInput(t *testing.T) {
	// A header claiming 2^62 slots per table.
	var header []byte
	header = protowire.AppendTag(header, 3, protowire.VarintType)
	header = protowire.AppendVarint(header, 1<<62)
	oversized := protowire.AppendTag(nil, 5, protowire.BytesType)
	oversized = protowire.AppendBytes(oversized, header)

	fsm := NewFSM()
	tests := map[string][]byte{
		"garbage":         {0xff},
		"unknown op":      Command{Op: 9, Name: "x"}.Marshal(),
		"empty name":      Command{Op: OpPutIndex, Index: marshalIndex(t, testIndex(t, "basic"))}.Marshal(),
		"corrupt idx":     Command{Op: OpPutIndex, Name: "x", Index: []byte{0x2a, 0xff}}.Marshal(),
		"oversized table": Command{Op: OpPutIndex, Name: "x", Index: oversized}.Marshal(),
	}
	for name, data := range tests {
		if result := fsm.Apply(&raft.Log{Data: data}); result == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	if len(fsm.Names()) != 0 {
		t.Fatalf("Rejected commands must not change state, got %v", fsm.Names())
	}
}

func TestCommand_Codec(t *testing.T) {
	cmd := Command{Op: OpPutIndex, Name: "orders", Index: []byte{1, 2, 3}}
	got, err := UnmarshalCommand(cmd.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalCommand failed: %v", err)
	}
	if got.Op != cmd.Op || got.Name != cmd.Name || !bytes.Equal(got.Index, cmd.Index) {
		t.Fatalf("Expected %+v, got %+v", cmd, got)
	}
}

func TestFSM_SnapshotRestore(t *testing.T) {
	fsm := NewFSM()
	a := marshalIndex(t, testIndex(t, "basic"))
	b := marshalIndex(t, testIndex(t, "volume-hiding"))
	apply(fsm, Command{Op: OpPutIndex, Name: "a", Index: a})
	apply(fsm, Command{Op: OpPutIndex, Name: "b", Index: b})

	snap, err := fsm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	defer snap.Release()

	// Later writes must not leak into the snapshot.
	apply(fsm, Command{Op: OpDeleteIndex, Name: "a"})

	sink := &mockSnapshotSink{buf: &bytes.Buffer{}}
	if err := snap.Persist(sink); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	restored := NewFSM()
	apply(restored, Command{Op: OpPutIndex, Name: "stale", Index: a})
	if err := restored.Restore(io.NopCloser(bytes.NewReader(sink.buf.Bytes()))); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	names := restored.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Expected [a b], got %v", names)
	}
	got, _ := restored.Get("b")
	if !bytes.Equal(got, b) {
		t.Fatal("Restored index b differs")
	}
}

func TestFSM_RestoreCorrupt(t *testing.T) {
	fsm := NewFSM()
	if err := fsm.Restore(io.NopCloser(bytes.NewReader([]byte{0x0a, 0x05, 0x01}))); err == nil {
		t.Fatal("Expected error for truncated snapshot")
	}
}

type mockSnapshotSink struct {
	buf *bytes.Buffer
}

func (m *mockSnapshotSink) Write(p []byte) (int, error) {
	return m.buf.Write(p)
}

func (m *mockSnapshotSink) Close() error {
	return nil
}

func (m *mockSnapshotSink) ID() string {
	return "test-snapshot"
}

func (m *mockSnapshotSink) Cancel() error {
	return nil
}
