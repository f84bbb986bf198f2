package store

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/raft"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mundrapranay/silhouette-ste/internal/index"
)

// Op is a replicated index operation.
type Op uint8

const (
	OpPutIndex Op = iota + 1
	OpDeleteIndex
)

func (o Op) String() string {
	switch o {
	case OpPutIndex:
		return "PUT_INDEX"
	case OpDeleteIndex:
		return "DELETE_INDEX"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Command is a single operation to be applied to the FSM.
type Command struct {
	Op   Op
	Name string
	// Index is the marshaled index for OpPutIndex.
	Index []byte
}

const (
	fieldOp    protowire.Number = 1
	fieldName  protowire.Number = 2
	fieldIndex protowire.Number = 3

	fieldEntry protowire.Number = 1
)

// Marshal encodes c for the raft log.
func (c Command) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Op))
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, c.Name)
	if len(c.Index) > 0 {
		b = protowire.AppendTag(b, fieldIndex, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Index)
	}
	return b
}

// UnmarshalCommand decodes a raft log entry.
func UnmarshalCommand(b []byte) (Command, error) {
	var c Command
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) {
		switch num {
		case fieldOp:
			c.Op = Op(v)
		case fieldName:
			c.Name = string(raw)
		case fieldIndex:
			c.Index = append([]byte(nil), raw...)
		}
	})
	return c, err
}

// walk visits every varint and bytes field of b.
func walk(b []byte, fn func(num protowire.Number, v uint64, raw []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("failed to read tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			fn(num, v, nil)
			b = b[n:]
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			fn(num, 0, raw)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// entry keeps the replicated blob next to its decoded, immutable index.
type entry struct {
	blob []byte
	idx  *index.Index
}

// FSM is the replicated catalogue of published indexes. Apply rejects blobs
// that do not decode.
type FSM struct {
	mu      sync.RWMutex
	indexes map[string]entry
}

// NewFSM creates an empty FSM.
func NewFSM() *FSM {
	return &FSM{
		indexes: make(map[string]entry),
	}
}

// Apply applies a Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	cmd, err := UnmarshalCommand(log.Data)
	if err != nil {
		return fmt.Errorf("failed to deserialize command: %w", err)
	}
	if cmd.Name == "" {
		return fmt.Errorf("%s: index name is empty", cmd.Op)
	}

	switch cmd.Op {
	case OpPutIndex:
		idx, err := index.Unmarshal(cmd.Index)
		if err != nil {
			return fmt.Errorf("%s %s: %w", cmd.Op, cmd.Name, err)
		}
		f.mu.Lock()
		f.indexes[cmd.Name] = entry{blob: cmd.Index, idx: idx}
		f.mu.Unlock()
		return nil
	case OpDeleteIndex:
		f.mu.Lock()
		delete(f.indexes, cmd.Name)
		f.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("unrecognized command op: %s", cmd.Op)
	}
}

// Get returns a copy of the marshaled index stored under name.
func (f *FSM) Get(name string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.indexes[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.blob...), true
}

// Index returns the decoded index stored under name.
func (f *FSM) Index(name string) (*index.Index, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.indexes[name]
	return e.idx, ok
}

// Names returns the stored index names in order.
func (f *FSM) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.indexes))
	for name := range f.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot captures the catalogue for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Blobs are never mutated after Apply, so sharing them is safe.
	clone := make(map[string][]byte, len(f.indexes))
	for k, e := range f.indexes {
		clone[k] = e.blob
	}
	return &FSMSnapshot{indexes: clone}, nil
}

// Restore replaces the catalogue with a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	restored := make(map[string]entry)
	var entryErr error
	err = walk(data, func(num protowire.Number, _ uint64, raw []byte) {
		if num != fieldEntry || entryErr != nil {
			return
		}
		cmd, err := UnmarshalCommand(raw)
		if err != nil {
			entryErr = err
			return
		}
		idx, err := index.Unmarshal(cmd.Index)
		if err != nil {
			entryErr = fmt.Errorf("index %s: %w", cmd.Name, err)
			return
		}
		restored[cmd.Name] = entry{blob: cmd.Index, idx: idx}
	})
	if err == nil {
		err = entryErr
	}
	if err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	f.indexes = restored
	f.mu.Unlock()
	return nil
}

// FSMSnapshot is a point-in-time copy of the catalogue. Each entry is a
// PUT_INDEX command.
type FSMSnapshot struct {
	indexes map[string][]byte
}

// Persist writes the snapshot to the given sink.
func (s *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b []byte
	for _, name := range names {
		entry := Command{Op: OpPutIndex, Name: name, Index: s.indexes[name]}.Marshal()
		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	if _, err := sink.Write(b); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return sink.Close()
}

// Release is called when the snapshot is no longer needed.
func (s *FSMSnapshot) Release() {}
