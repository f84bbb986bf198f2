package common

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mundrapranay/silhouette-ste/algorithms/noise"
	"github.com/mundrapranay/silhouette-ste/algorithms/rangescheme"
	"github.com/mundrapranay/silhouette-ste/internal/cuckoo"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/logging"
)

// SchemeConfig is the file form of every scheme parameter.
type SchemeConfig struct {
	// Scheme names a registered EMM. Empty selects the default for HidingMode.
	Scheme     string         `yaml:"scheme,omitempty" json:"scheme,omitempty"`
	HidingMode emm.HidingMode `yaml:"hiding_mode" json:"hiding_mode"`

	// DP noise
	Epsilon     float64 `yaml:"epsilon,omitempty" json:"epsilon,omitempty"`
	Sensitivity float64 `yaml:"sensitivity,omitempty" json:"sensitivity,omitempty"`
	Truncation  float64 `yaml:"truncation,omitempty" json:"truncation,omitempty"`
	// NoiseMechanism is "laplace" (default) or "geometric".
	NoiseMechanism noise.Mechanism `yaml:"noise_mechanism,omitempty" json:"noise_mechanism,omitempty"`

	Cuckoo cuckoo.Params `yaml:",inline" json:"cuckoo"`

	Workers int `yaml:"workers,omitempty" json:"workers,omitempty"`
	Parties int `yaml:"parties,omitempty" json:"parties,omitempty"`

	// Range queries
	DomainSize uint64                `yaml:"domain_size,omitempty" json:"domain_size,omitempty"`
	QueryType  rangescheme.QueryType `yaml:"query_type,omitempty" json:"query_type,omitempty"`
	BlockSize  uint64                `yaml:"block_size,omitempty" json:"block_size,omitempty"`
	Parallel   bool                  `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	// WrapAroundT enables wrap-around queries of span at most T. Zero disables them.
	WrapAroundT uint64 `yaml:"wrap_around_t,omitempty" json:"wrap_around_t,omitempty"`

	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// DefaultSchemeConfig returns the defaults for mode.
func DefaultSchemeConfig(mode emm.HidingMode) SchemeConfig {
	d := emm.DefaultConfig(mode)
	return SchemeConfig{
		HidingMode:  mode,
		Epsilon:     d.Epsilon,
		Sensitivity: d.Sensitivity,
		Truncation:  d.Truncation,
		Cuckoo:      d.Cuckoo,
		Parties:     d.Parties,
		QueryType:   rangescheme.BooleanQuery,
		LogLevel:    "info",
	}
}

// Validate checks if the scheme config is valid
func (c *SchemeConfig) Validate() error {
	if err := c.EMMConfig(nil).Validate(); err != nil {
		return fmt.Errorf("invalid emm parameters: %w", err)
	}
	if c.Scheme != "" {
		if _, err := emm.Get(c.Scheme, c.EMMConfig(nil)); err != nil {
			return err
		}
	}
	if c.DomainSize > 0 {
		if err := c.RangeConfig(nil).Validate(); err != nil {
			return fmt.Errorf("invalid range parameters: %w", err)
		}
	} else if c.WrapAroundT > 0 {
		return fmt.Errorf("invalid range parameters: wrap_around_t needs domain_size")
	}
	if c.LogLevel != "" {
		if _, err := logging.New(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// EMMConfig returns the EMM view of c.
func (c *SchemeConfig) EMMConfig(log logrus.FieldLogger) emm.Config {
	return emm.Config{
		HidingMode:     c.HidingMode,
		Epsilon:        c.Epsilon,
		Sensitivity:    c.Sensitivity,
		Truncation:     c.Truncation,
		NoiseMechanism: c.NoiseMechanism,
		Cuckoo:         c.Cuckoo,
		Workers:        c.Workers,
		Parties:        c.Parties,
		Log:            log,
	}
}

// RangeConfig returns the range scheme view of c.
func (c *SchemeConfig) RangeConfig(log logrus.FieldLogger) rangescheme.Config {
	qt := c.QueryType
	if qt == "" {
		qt = rangescheme.BooleanQuery
	}
	return rangescheme.Config{
		DomainSize: c.DomainSize,
		QueryType:  qt,
		BlockSize:  c.BlockSize,
		Workers:    c.Workers,
		Log:        log,
	}
}

// SchemeName resolves the EMM name, falling back to the hiding mode default.
func (c *SchemeConfig) SchemeName() (string, error) {
	if c.Scheme != "" {
		return c.Scheme, nil
	}
	return emm.DefaultScheme(c.HidingMode)
}

// Logger builds the logger named by LogLevel.
func (c *SchemeConfig) Logger() (*logrus.Logger, error) {
	level := c.LogLevel
	if level == "" {
		level = "info"
	}
	return logging.New(level)
}
