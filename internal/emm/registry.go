package emm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

var (
	schemesMu sync.RWMutex
	schemes   = make(map[string]func(Config) Builder)
)

// Register registers a scheme constructor under name.
func Register(name string, constructor func(Config) Builder) {
	schemesMu.Lock()
	defer schemesMu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("scheme constructor for %s is nil", name))
	}

	if _, exists := schemes[name]; exists {
		panic(fmt.Sprintf("scheme %s is already registered", name))
	}

	schemes[name] = constructor
}

// Get returns a new instance of the named scheme.
func Get(name string, cfg Config) (Builder, error) {
	schemesMu.RLock()
	defer schemesMu.RUnlock()

	constructor, exists := schemes[name]
	if !exists {
		return nil, errs.Errorf("emm.Get", errs.ErrNotFound, "scheme %s not found", name)
	}

	return constructor(cfg), nil
}

// List returns all registered scheme names in sorted order.
func List() []string {
	schemesMu.RLock()
	defer schemesMu.RUnlock()

	names := make([]string, 0, len(schemes))
	for name := range schemes {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// DefaultScheme returns the scheme name used for a hiding mode.
func DefaultScheme(mode HidingMode) (string, error) {
	switch mode {
	case HidingNone:
		return NameBasic, nil
	case HidingPadToMax:
		return NameVolumeHidingOptimised, nil
	case HidingDifferentialPrivacy:
		return NameDPVolumeHidingNonInteractive, nil
	default:
		return "", errs.Errorf("emm.DefaultScheme", errs.ErrInvalidParameter, "unknown hiding mode %q", mode)
	}
}

// New validates cfg and returns the default scheme for its hiding mode.
func New(cfg Config) (Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name, err := DefaultScheme(cfg.HidingMode)
	if err != nil {
		return nil, err
	}
	return Get(name, cfg)
}

// AsEMM returns b as a one-round scheme.
func AsEMM(b Builder) (EMM, bool) {
	e, ok := b.(EMM)
	return e, ok
}

// AsTwoRound returns b as a two-round scheme.
func AsTwoRound(b Builder) (TwoRoundEMM, bool) {
	t, ok := b.(TwoRoundEMM)
	return t, ok
}
