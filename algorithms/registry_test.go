package algorithms

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mundrapranay/silhouette-ste/algorithms/common"
	"github.com/mundrapranay/silhouette-ste/algorithms/rangescheme"
	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/logging"
)

func TestNewRangeScheme_Selection(t *testing.T) {
	tests := []struct {
		mode     emm.HidingMode
		scheme   string
		parallel bool
		prefix   string
	}{
		{emm.HidingNone, "", false, "range-brc/basic"},
		{emm.HidingPadToMax, "", true, "parallel-range-brc/volume-hiding-optimised"},
		{emm.HidingDifferentialPrivacy, emm.NameDPVolumeHiding, false, "dp-range-brc/dp-volume-hiding"},
		{emm.HidingDifferentialPrivacy, emm.NameDPVolumeHiding, true, "parallel-dp-range-brc/dp-volume-hiding"},
		{emm.HidingDifferentialPrivacy, "", false, "range-brc/dp-volume-hiding-noninteractive"},
	}

	for _, tt := range tests {
		cfg := common.DefaultSchemeConfig(tt.mode)
		cfg.Scheme = tt.scheme
		cfg.Parallel = tt.parallel
		cfg.DomainSize = 32

		s, err := NewRangeScheme(&cfg, logging.Discard())
		if err != nil {
			t.Fatalf("NewRangeScheme(%s) failed: %v", tt.mode, err)
		}
		if s.Name() != tt.prefix {
			t.Errorf("Expected %s, got %s", tt.prefix, s.Name())
		}
	}
}

func TestNewRangeScheme_WrapAround(t *testing.T) {
	cfg := common.DefaultSchemeConfig(emm.HidingPadToMax)
	cfg.DomainSize = 32
	cfg.WrapAroundT = 4

	s, err := NewRangeScheme(&cfg, logging.Discard())
	if err != nil {
		t.Fatalf("NewRangeScheme failed: %v", err)
	}
	w, ok := s.(*rangescheme.WrapAround)
	if !ok {
		t.Fatalf("Expected *rangescheme.WrapAround, got %T", s)
	}
	if w.T() != 4 {
		t.Errorf("Expected T 4, got %d", w.T())
	}

	cfg = common.DefaultSchemeConfig(emm.HidingDifferentialPrivacy)
	cfg.Scheme = emm.NameDPVolumeHiding
	cfg.DomainSize = 32
	cfg.WrapAroundT = 4
	if _, err := NewRangeScheme(&cfg, nil); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Fatalf("Expected ErrInvalidParameter for a two-round scheme, got %v", err)
	}
}

func TestNewRangeScheme_RequiresDomain(t *testing.T) {
	cfg := common.DefaultSchemeConfig(emm.HidingNone)
	if _, err := NewRangeScheme(&cfg, nil); !errors.Is(err, errs.ErrInvalidParameter) {
		t.Fatalf("Expected ErrInvalidParameter, got %v", err)
	}
}

func TestNewEMM_UnknownScheme(t *testing.T) {
	cfg := common.DefaultSchemeConfig(emm.HidingNone)
	cfg.Scheme = "no-such-scheme"
	if _, err := NewEMM(&cfg, nil); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestNewRangeScheme_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := common.DefaultSchemeConfig(emm.HidingPadToMax)
	cfg.DomainSize = 16
	cfg.QueryType = rangescheme.WeightedQuery

	s, err := NewRangeScheme(&cfg, logging.Discard())
	if err != nil {
		t.Fatalf("NewRangeScheme failed: %v", err)
	}
	master, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	idx, err := s.Setup(ctx, master, []rangescheme.Record{
		{Position: 1, ID: 1, Weight: 3},
		{Position: 4, ID: 2, Weight: 4},
		{Position: 12, ID: 3, Weight: 5},
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	_, total, err := rangescheme.QueryWeighted(ctx, s, master, idx, 0, 11)
	if err != nil {
		t.Fatalf("QueryWeighted failed: %v", err)
	}
	if total != 7 {
		t.Errorf("Expected total 7, got %d", total)
	}
}

func TestListSchemes(t *testing.T) {
	names := strings.Join(ListSchemes(), ",")
	for _, want := range []string{emm.NameBasic, emm.NameVolumeHiding, emm.NameDPVolumeHiding} {
		if !strings.Contains(names, want) {
			t.Errorf("Expected %s in %s", want, names)
		}
	}
}
