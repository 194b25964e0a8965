package rpcpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mev-searcher/internal/config"
	"github.com/r3e-network/mev-searcher/internal/errs"
)

// fakeUpstream serves eth_blockNumber responses; when failing is set it
// answers every request with a 500 so tests can simulate an endpoint
// going unhealthy.
func fakeUpstream(t *testing.T, block *uint64, failing *atomic.Bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing != nil && failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  fmt.Sprintf("0x%x", atomic.LoadUint64(block)),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestNewRejectsEmptyEndpoints(t *testing.T) {
	_, err := New(nil, time.Second, nil)
	require.Error(t, err)
}

func TestGetClientPrefersHealthyPrimary(t *testing.T) {
	var blockA, blockB uint64 = 100, 100
	srvA := fakeUpstream(t, &blockA, nil)
	defer srvA.Close()
	srvB := fakeUpstream(t, &blockB, nil)
	defer srvB.Close()

	pool, err := New([]config.RPCEndpointConfig{
		{Name: "primary", URL: srvA.URL, Weight: 100, IsPrimary: true, MaxBlockLag: 5},
		{Name: "secondary", URL: srvB.URL, Weight: 90, MaxBlockLag: 5},
	}, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.probeAll(ctx)

	client, err := pool.GetClient()
	require.NoError(t, err)
	assert.Equal(t, "primary", client.Endpoint)
}

func TestFailoverToSecondaryWhenPrimaryUnhealthy(t *testing.T) {
	var blockA, blockB uint64 = 100, 100
	var failingA atomic.Bool
	srvA := fakeUpstream(t, &blockA, &failingA)
	defer srvA.Close()
	srvB := fakeUpstream(t, &blockB, nil)
	defer srvB.Close()

	pool, err := New([]config.RPCEndpointConfig{
		{Name: "primary", URL: srvA.URL, Weight: 100, IsPrimary: true, MaxBlockLag: 5, TimeoutMS: 2000},
		{Name: "secondary", URL: srvB.URL, Weight: 90, MaxBlockLag: 5, TimeoutMS: 2000},
	}, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Three consecutive failed probes to cross max_consecutive_failures.
	failingA.Store(true)
	pool.probeAll(ctx)
	pool.probeAll(ctx)
	pool.probeAll(ctx)

	client, err := pool.GetClient()
	require.NoError(t, err)
	assert.Equal(t, "secondary", client.Endpoint)

	// Monotonicity: primary stays excluded until a successful probe.
	pool.probeAll(ctx)
	client, err = pool.GetClient()
	require.NoError(t, err)
	assert.Equal(t, "secondary", client.Endpoint)

	failingA.Store(false)
	pool.probeAll(ctx)
	client, err = pool.GetClient()
	require.NoError(t, err)
	assert.Equal(t, "primary", client.Endpoint)
}

func TestStickySessionRoundTripAndEviction(t *testing.T) {
	var blockA, blockB uint64 = 50, 50
	var failingA atomic.Bool
	srvA := fakeUpstream(t, &blockA, &failingA)
	defer srvA.Close()
	srvB := fakeUpstream(t, &blockB, nil)
	defer srvB.Close()

	pool, err := New([]config.RPCEndpointConfig{
		{Name: "primary", URL: srvA.URL, Weight: 100, IsPrimary: true, MaxBlockLag: 5, TimeoutMS: 2000},
		{Name: "secondary", URL: srvB.URL, Weight: 90, MaxBlockLag: 5, TimeoutMS: 2000},
	}, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.probeAll(ctx)

	c1, err := pool.GetStickyClient("sim-1")
	require.NoError(t, err)
	assert.Equal(t, "primary", c1.Endpoint)

	c2, err := pool.GetStickyClient("sim-1")
	require.NoError(t, err)
	assert.Equal(t, "primary", c2.Endpoint, "sticky session must return the same endpoint")

	failingA.Store(true)
	pool.probeAll(ctx)
	pool.probeAll(ctx)
	pool.probeAll(ctx)

	c3, err := pool.GetStickyClient("sim-1")
	require.NoError(t, err)
	assert.Equal(t, "secondary", c3.Endpoint, "de-healthed sticky endpoint must evict and rebind")

	pool.Release("sim-1")
	pool.mu.RLock()
	_, stillSticky := pool.sticky["sim-1"]
	pool.mu.RUnlock()
	assert.False(t, stillSticky)
}

func TestCallReturnsUpstreamErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool, err := New([]config.RPCEndpointConfig{
		{Name: "only", URL: srv.URL, Weight: 1, IsPrimary: true, TimeoutMS: 1000},
	}, time.Hour, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, callErr := pool.call(ctx, "only", "eth_call", nil)
	require.Error(t, callErr)
	assert.True(t, errs.IsCode(callErr, errs.ErrCodeUpstreamTimeout))
}

func TestExecuteWithFailoverRetriesAcrossEndpoints(t *testing.T) {
	var blockA, blockB uint64 = 1, 1
	srvA := fakeUpstream(t, &blockA, nil)
	defer srvA.Close()
	srvB := fakeUpstream(t, &blockB, nil)
	defer srvB.Close()

	pool, err := New([]config.RPCEndpointConfig{
		{Name: "primary", URL: srvA.URL, Weight: 100, IsPrimary: true, MaxBlockLag: 5, TimeoutMS: 2000},
		{Name: "secondary", URL: srvB.URL, Weight: 90, MaxBlockLag: 5, TimeoutMS: 2000},
	}, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.probeAll(ctx)

	var attempts int
	err = pool.ExecuteWithFailover(ctx, 3, func(c *Client) error {
		attempts++
		if attempts == 1 {
			return errors.New("simulated failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestHealthyCountAndEndpointsSnapshot(t *testing.T) {
	var block uint64 = 10
	srv := fakeUpstream(t, &block, nil)
	defer srv.Close()

	pool, err := New([]config.RPCEndpointConfig{
		{Name: "only", URL: srv.URL, Weight: 1, IsPrimary: true, MaxBlockLag: 5, TimeoutMS: 2000},
	}, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.probeAll(ctx)

	assert.Equal(t, 1, pool.HealthyCount())
	snap := pool.Endpoints()
	require.Contains(t, snap, "only")
	assert.True(t, snap["only"].Healthy)
}
