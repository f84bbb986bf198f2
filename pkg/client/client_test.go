package client

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mundrapranay/silhouette-ste/algorithms/common"
	"github.com/mundrapranay/silhouette-ste/algorithms/rangescheme"
	"github.com/mundrapranay/silhouette-ste/internal/crypto"
	"github.com/mundrapranay/silhouette-ste/internal/emm"
	"github.com/mundrapranay/silhouette-ste/internal/errs"
	"github.com/mundrapranay/silhouette-ste/internal/server"
	"github.com/mundrapranay/silhouette-ste/internal/store"
)

func setupBackend(t *testing.T) *server.Server {
	t.Helper()
	s, err := store.NewStore(store.Config{
		NodeID:           "client-test",
		ListenAddr:       "127.0.0.1:0",
		DataDir:          t.TempDir(),
		Bootstrap:        true,
		HeartbeatTimeout: 500 * time.Millisecond,
		ElectionTimeout:  500 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })

	require.Eventually(t, s.IsLeader, 5*time.Second, 50*time.Millisecond)
	return server.NewServer(s, nil, nil)
}

func newClient(t *testing.T, backend Backend, cfg common.SchemeConfig) *Client {
	t.Helper()
	master, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := New(backend, master, &cfg, nil)
	require.NoError(t, err)
	return c
}

func sorted(values [][]byte) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	sort.Strings(out)
	return out
}

func TestClient_BuildAndQuery(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()
	mm := emm.Multimap{
		"x": {[]byte("1"), []byte("2")},
		"y": {[]byte("3")},
	}

	tests := []struct {
		mode   emm.HidingMode
		scheme string
	}{
		{emm.HidingNone, ""},
		{emm.HidingPadToMax, emm.NameVolumeHiding},
		{emm.HidingPadToMax, ""},
		{emm.HidingDifferentialPrivacy, emm.NameDPVolumeHiding},
		{emm.HidingDifferentialPrivacy, ""},
	}
	for _, tt := range tests {
		cfg := common.DefaultSchemeConfig(tt.mode)
		cfg.Scheme = tt.scheme
		c := newClient(t, backend, cfg)
		name := string(tt.mode) + "/" + tt.scheme

		require.NoError(t, c.Build(ctx, name, mm), name)

		values, err := c.Query(ctx, name, "x")
		require.NoError(t, err, name)
		require.Equal(t, []string{"1", "2"}, sorted(values), name)

		values, err = c.Query(ctx, name, "absent")
		require.NoError(t, err, name)
		require.Empty(t, values, name)
	}
}

func TestClient_QueryRange(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()
	records := []rangescheme.Record{
		{Position: 2, ID: 1, Weight: 1},
		{Position: 5, ID: 2, Weight: 2},
		{Position: 5, ID: 3, Weight: 3},
		{Position: 9, ID: 4, Weight: 4},
	}

	for _, scheme := range []string{emm.NameBasic, emm.NameDPVolumeHiding} {
		cfg := common.DefaultSchemeConfig(emm.HidingDifferentialPrivacy)
		cfg.Scheme = scheme
		cfg.DomainSize = 16
		cfg.QueryType = rangescheme.WeightedQuery
		c := newClient(t, backend, cfg)

		require.NoError(t, c.BuildRange(ctx, "range-"+scheme, records))
		res, err := c.QueryRange(ctx, "range-"+scheme, 0, 6)
		require.NoError(t, err, scheme)
		require.Equal(t, 3, res.Len(), scheme)

		weights, total, err := res.Weights()
		require.NoError(t, err)
		require.Equal(t, map[uint64]int64{2: 1, 5: 5}, weights)
		require.Equal(t, int64(6), total)
	}
}

func TestClient_QueryRangeWrapAround(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()
	records := []rangescheme.Record{
		{Position: 0, ID: 1},
		{Position: 4, ID: 2},
		{Position: 6, ID: 3},
		{Position: 15, ID: 4},
	}

	cfg := common.DefaultSchemeConfig(emm.HidingPadToMax)
	cfg.DomainSize = 16
	cfg.WrapAroundT = 3
	c := newClient(t, backend, cfg)
	require.NoError(t, c.BuildRange(ctx, "wrap", records))

	for i := 0; i < 10; i++ {
		res, err := c.QueryRange(ctx, "wrap", 4, 7)
		require.NoError(t, err)
		require.Equal(t, []rangescheme.Record{{Position: 4, ID: 2}, {Position: 6, ID: 3}}, res.Records())
	}

	_, err := c.QueryRange(ctx, "wrap", 0, 8)
	require.ErrorIs(t, err, errs.ErrInvalidParameter)
}

func TestClient_Errors(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()
	cfg := common.DefaultSchemeConfig(emm.HidingNone)

	_, err := New(backend, []byte("short"), &cfg, nil)
	require.True(t, errors.Is(err, errs.ErrInvalidParameter), "got %v", err)

	c := newClient(t, backend, cfg)
	_, err = c.Query(ctx, "never-built", "x")
	require.True(t, errors.Is(err, errs.ErrNotFound), "got %v", err)

	_, err = c.QueryRange(ctx, "never-built", 0, 1)
	require.True(t, errors.Is(err, errs.ErrNotFound), "got %v", err)

	// Status errors from the server come back as error kinds.
	err = c.Build(ctx, "", emm.Multimap{"x": {[]byte("1")}})
	require.True(t, errors.Is(err, errs.ErrInvalidParameter), "got %v", err)
}
