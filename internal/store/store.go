// Package store replicates published encrypted indexes with Raft. Indexes
// are stored in their marshaled form, so followers can serve searches after
// a leader change.
package store

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
	"github.com/mundrapranay/silhouette-ste/internal/logging"
)

const defaultApplyTimeout = 10 * time.Second

// Store wraps a Raft instance and exposes the index catalogue.
type Store struct {
	raft *raft.Raft
	fsm  *FSM
	log  logrus.FieldLogger
	addr raft.ServerAddress

	applyTimeout time.Duration
}

// Config holds configuration for initializing a Raft store.
type Config struct {
	NodeID           string
	ListenAddr       string
	DataDir          string
	Bootstrap        bool
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	CommitTimeout    time.Duration
	// ApplyTimeout bounds one replicated write. Zero means 10s.
	ApplyTimeout time.Duration
	Log          logrus.FieldLogger
}

// NewStore creates and initializes a new Raft store.
func NewStore(config Config) (*Store, error) {
	fsm := NewFSM()
	log := logging.OrDiscard(config.Log).WithField("node", config.NodeID)

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(config.NodeID)
	if config.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = config.HeartbeatTimeout
	}
	if config.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = config.ElectionTimeout
	}
	if config.CommitTimeout > 0 {
		raftConfig.CommitTimeout = config.CommitTimeout
	}
	if raftConfig.LeaderLeaseTimeout > raftConfig.HeartbeatTimeout {
		raftConfig.LeaderLeaseTimeout = raftConfig.HeartbeatTimeout
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(config.DataDir, "logs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(config.DataDir, "stable"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(config.DataDir, 3, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address: %w", err)
	}

	// An ephemeral port is only known after bind, so let the transport
	// advertise its listener.
	var advertise net.Addr = addr
	if addr.Port == 0 {
		advertise = nil
	}

	transport, err := raft.NewTCPTransport(config.ListenAddr, advertise, 3, 10*time.Second, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	// Bootstrap with the bound address so ":0" listeners work.
	if config.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(config.NodeID),
					Address: transport.LocalAddr(),
				},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	}

	log.WithField("addr", transport.LocalAddr()).Info("raft store started")

	timeout := config.ApplyTimeout
	if timeout <= 0 {
		timeout = defaultApplyTimeout
	}
	return &Store{
		raft:         r,
		fsm:          fsm,
		log:          log,
		addr:         transport.LocalAddr(),
		applyTimeout: timeout,
	}, nil
}

func (s *Store) apply(cmd Command) error {
	if s.raft.State() != raft.Leader {
		return errs.Errorf("store.apply", errs.ErrInvalidState, "%s %s: not the leader", cmd.Op, cmd.Name)
	}

	future := s.raft.Apply(cmd.Marshal(), s.applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return errs.Errorf("store.apply", errs.ErrInvalidParameter, "%v", err)
	}
	return nil
}

// SaveIndex replicates idx under name, replacing any earlier index.
func (s *Store) SaveIndex(name string, idx *index.Index) error {
	if name == "" {
		return errs.Errorf("store.SaveIndex", errs.ErrInvalidParameter, "index name is empty")
	}
	b, err := index.Marshal(idx)
	if err != nil {
		return err
	}
	if err := s.apply(Command{Op: OpPutIndex, Name: name, Index: b}); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"index": name, "bytes": len(b)}).Debug("index saved")
	return nil
}

// LoadIndex returns the index stored under name from local state. The
// index is shared and must not be modified.
func (s *Store) LoadIndex(name string) (*index.Index, error) {
	idx, ok := s.fsm.Index(name)
	if !ok {
		return nil, errs.Errorf("store.LoadIndex", errs.ErrNotFound, "index %q", name)
	}
	return idx, nil
}

// DeleteIndex removes the index stored under name.
func (s *Store) DeleteIndex(name string) error {
	if _, ok := s.fsm.Index(name); !ok {
		return errs.Errorf("store.DeleteIndex", errs.ErrNotFound, "index %q", name)
	}
	return s.apply(Command{Op: OpDeleteIndex, Name: name})
}

// ListIndexes returns the stored index names in order.
func (s *Store) ListIndexes() []string {
	return s.fsm.Names()
}

// IsLeader returns whether this node is currently the Raft leader.
func (s *Store) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Leader returns the address of the current leader.
func (s *Store) Leader() raft.ServerAddress {
	addr, _ := s.raft.LeaderWithID()
	return addr
}

// WaitForLeader blocks until some node leads or the timeout passes.
func (s *Store) WaitForLeader(timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if s.Leader() != "" {
			return nil
		}
		select {
		case <-deadline:
			return errs.Errorf("store.WaitForLeader", errs.ErrInvalidState, "no leader after %s", timeout)
		case <-tick.C:
		}
	}
}

// AddPeer adds a new voter to the cluster.
func (s *Store) AddPeer(peerID, peerAddr string) error {
	return s.raft.AddVoter(raft.ServerID(peerID), raft.ServerAddress(peerAddr), 0, 0).Error()
}

// RemovePeer removes a peer from the cluster.
func (s *Store) RemovePeer(peerID string) error {
	return s.raft.RemoveServer(raft.ServerID(peerID), 0, 0).Error()
}

// Addr returns the address this node's transport is bound to.
func (s *Store) Addr() string {
	return string(s.addr)
}

// Shutdown gracefully shuts down the Raft instance.
func (s *Store) Shutdown() error {
	return s.raft.Shutdown().Error()
}
