// Package emm implements encrypted multimaps: a client encrypts a label to
// value-set mapping into an index.Index so that a server can answer label
// queries from search tokens while learning only the volume the scheme
// allows.
package emm

import (
	"context"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/algorithms/noise"
	"github.com/mundrapranay/silhouette-ste/internal/cuckoo"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/index"
	"github.com/mundrapranay/silhouette-ste/internal/logging"
)

// Label is an opaque keyword or tree-node identifier.
type Label string

// Multimap maps each label to its values.
type Multimap map[Label][][]byte

// Labels returns the labels in sorted order.
func (mm Multimap) Labels() []Label {
	labels := make([]Label, 0, len(mm))
	for l := range mm {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// MaxMultiplicity returns the largest value count of any label.
func (mm Multimap) MaxMultiplicity() int {
	m := 0
	for _, vs := range mm {
		if len(vs) > m {
			m = len(vs)
		}
	}
	return m
}

// Rows returns the total number of values.
func (mm Multimap) Rows() int {
	n := 0
	for _, vs := range mm {
		n += len(vs)
	}
	return n
}

// HidingMode selects how per-label volume is protected.
type HidingMode string

const (
	HidingNone                HidingMode = "none"
	HidingPadToMax            HidingMode = "padToMax"
	HidingDifferentialPrivacy HidingMode = "differentialPrivacy"
)

// Config parameterizes every scheme.
type Config struct {
	HidingMode HidingMode
	// Epsilon, Sensitivity and Truncation calibrate the DP noise.
	Epsilon     float64
	Sensitivity float64
	Truncation  float64
	// NoiseMechanism selects the noise distribution. Empty means Laplace.
	NoiseMechanism noise.Mechanism
	Cuckoo         cuckoo.Params
	// Workers bounds build parallelism. Zero means GOMAXPROCS.
	Workers int
	// Parties is the number of distributed PRF shares.
	Parties int
	Log     logrus.FieldLogger
}

// DefaultConfig returns a configuration for the given hiding mode.
func DefaultConfig(mode HidingMode) Config {
	return Config{
		HidingMode:  mode,
		Epsilon:     1,
		Sensitivity: noise.DefaultSensitivity,
		Truncation:  4,
		Cuckoo:      cuckoo.DefaultParams(),
		Parties:     2,
	}
}

// Validate checks cfg before any cryptographic work.
func (c Config) Validate() error {
	switch c.HidingMode {
	case HidingNone, HidingPadToMax:
	case HidingDifferentialPrivacy:
		p, err := noise.Calibrate(c.Epsilon, c.Sensitivity, c.Truncation, 0)
		if err != nil {
			return err
		}
		p.Mechanism = c.NoiseMechanism
		if err := p.Validate(); err != nil {
			return err
		}
	default:
		return errs.Errorf("emm.Validate", errs.ErrInvalidParameter, "unknown hiding mode %q", c.HidingMode)
	}
	if c.Workers < 0 {
		return errs.Errorf("emm.Validate", errs.ErrInvalidParameter, "workers must be >= 0, got %d", c.Workers)
	}
	if c.Parties < 0 {
		return errs.Errorf("emm.Validate", errs.ErrInvalidParameter, "parties must be >= 0, got %d", c.Parties)
	}
	return c.Cuckoo.Validate()
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (c Config) parties() int {
	if c.Parties > 0 {
		return c.Parties
	}
	return 2
}

func (c Config) log() logrus.FieldLogger {
	return logging.OrDiscard(c.Log)
}

// TokenKind tells the server how to read a SearchToken.
type TokenKind uint8

const (
	// TokenLabel is a PRF value addressing tagged rows by counter.
	TokenLabel TokenKind = iota + 1
	// TokenPositions lists explicit slot pairs.
	TokenPositions
	// TokenDelegated is a tree-PRF node the server expands into Count pairs.
	TokenDelegated
)

// SearchToken is the trapdoor for one label.
type SearchToken struct {
	Kind      TokenKind
	Value     []byte
	Positions [][2]int
	Count     int

	// Seed is the section seed a two-round token was derived against.
	Seed []byte
}

// Builder is the setup half shared by every scheme.
type Builder interface {
	Name() string

	// Setup encrypts mm under master and returns a queryable index.
	Setup(ctx context.Context, master []byte, mm Multimap) (*index.Index, error)

	// Bind restores the client state for an index built earlier.
	Bind(idx *index.Index) error
}

// EMM answers a label in one round.
type EMM interface {
	Builder

	// Token derives the trapdoor for label.
	Token(master []byte, label Label) (*SearchToken, error)

	// Search is a pure function of idx and tok.
	Search(idx *index.Index, tok *SearchToken) ([]index.Slot, error)

	// Resolve decrypts slots and keeps the values of label.
	Resolve(master []byte, label Label, slots []index.Slot) ([][]byte, error)
}

// TwoRoundEMM reveals a count in the first round and the slots in the second.
type TwoRoundEMM interface {
	Builder

	// Begin starts a query for label in state AwaitingCount.
	Begin(master []byte, label Label) (*Query, error)

	// SearchCount answers round one.
	SearchCount(idx *index.Index, tok *SearchToken) ([]index.Slot, error)

	// SearchSlots answers round two.
	SearchSlots(idx *index.Index, tok *SearchToken) ([]index.Slot, error)
}
