// Package rpcpool implements the weighted-failover upstream RPC pool with
// sticky-session binding (spec §4.3). Grounded on infrastructure/chain's
// RPCPool, generalized from a single NEO health check to a pluggable
// JSON-RPC probe method and per-endpoint circuit breakers, plus a
// per-endpoint outbound rate limiter (internal/ratelimit, adapted from
// infrastructure/ratelimit) guarding against provider-side throttling.
package rpcpool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/r3e-network/mev-searcher/internal/config"
	"github.com/r3e-network/mev-searcher/internal/errs"
	"github.com/r3e-network/mev-searcher/internal/lifecycle"
	"github.com/r3e-network/mev-searcher/internal/ratelimit"
	"github.com/r3e-network/mev-searcher/internal/types"
	"github.com/r3e-network/mev-searcher/pkg/logger"
	"github.com/r3e-network/mev-searcher/pkg/metrics"
)

// ProbeMethod is the JSON-RPC method used to resolve an endpoint's latest
// block number during health probing.
const ProbeMethod = "eth_blockNumber"

// Client is a bound RPC client scoped to one endpoint. Callers use Call
// to issue JSON-RPC requests against that endpoint specifically.
type Client struct {
	Endpoint string
	pool     *Pool
}

// Call issues a JSON-RPC request against the client's bound endpoint,
// routed through that endpoint's circuit breaker.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return c.pool.call(ctx, c.Endpoint, method, params)
}

type endpointState struct {
	cfg     types.RpcEndpoint
	mu      sync.RWMutex
	health  types.EndpointHealth
	breaker *gobreaker.CircuitBreaker[json.RawMessage]
	limiter *ratelimit.Limiter
}

func (s *endpointState) snapshot() types.EndpointHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Pool manages a set of RPC endpoints: a background health prober,
// weighted primary selection, sticky simulation sessions, and
// circuit-breaker-guarded calls with retry-based failover.
type Pool struct {
	*lifecycle.Base

	mu        sync.RWMutex
	endpoints map[string]*endpointState
	order     []string // stable iteration order, config order

	sticky map[string]string // simID -> endpoint name

	probeInterval time.Duration
	maxFailures   int
	httpClient    *http.Client

	log *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// New builds a Pool from the configured RPC endpoints. probeInterval
// defaults to 30s (spec §4.3) when zero.
func New(cfgs []config.RPCEndpointConfig, probeInterval time.Duration, log *logger.Logger) (*Pool, error) {
	if len(cfgs) == 0 {
		return nil, errs.MissingEndpoint()
	}
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("rpcpool")
	}

	p := &Pool{
		Base:          lifecycle.NewBase("rpcpool"),
		endpoints:     make(map[string]*endpointState, len(cfgs)),
		sticky:        make(map[string]string),
		probeInterval: probeInterval,
		maxFailures:   3,
		httpClient:    &http.Client{},
		log:           log,
		done:          make(chan struct{}),
	}

	for _, c := range cfgs {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, errs.ConfigInvalid("rpc.name", "endpoint name must not be empty")
		}
		timeout := c.Timeout()
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		st := &endpointState{
			cfg: types.RpcEndpoint{
				Name:            name,
				URL:             c.URL,
				Weight:          c.Weight,
				Timeout:         timeout,
				IsPrimary:       c.IsPrimary,
				SupportsMempool: c.SupportsMempool,
				SupportsTrace:   c.SupportsTrace,
				MaxBlockLag:     c.MaxBlockLag,
			},
			health: types.EndpointHealth{Healthy: true},
		}
		st.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		st.limiter = ratelimit.New(c.RequestsPerSecond, c.Burst)
		p.endpoints[name] = st
		p.order = append(p.order, name)
	}
	return p, nil
}

// Start launches the background health prober.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.MarkStarted()

	p.wg.Add(1)
	go p.probeLoop(runCtx)
}

// Stop cancels the prober and waits for it to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.MarkStopped()
}

func (p *Pool) probeLoop(ctx context.Context) {
	defer p.wg.Done()

	p.probeAll(ctx)

	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll resolves a reference latest block by polling endpoints
// sequentially until one answers, then probes every endpoint in
// parallel for latency and block lag against that reference.
func (p *Pool) probeAll(ctx context.Context) {
	ref, ok := p.resolveReferenceBlock(ctx)
	if !ok {
		p.log.WithContext(ctx).Warn("rpcpool: no endpoint answered reference block probe")
		return
	}

	var wg sync.WaitGroup
	p.mu.RLock()
	names := append([]string(nil), p.order...)
	p.mu.RUnlock()

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			p.probeOne(ctx, name, ref)
		}(name)
	}
	wg.Wait()
}

func (p *Pool) resolveReferenceBlock(ctx context.Context) (uint64, bool) {
	p.mu.RLock()
	names := append([]string(nil), p.order...)
	p.mu.RUnlock()

	for _, name := range names {
		st := p.endpoints[name]
		block, _, err := p.rawProbe(ctx, st.cfg)
		if err == nil {
			return block, true
		}
	}
	return 0, false
}

func (p *Pool) probeOne(ctx context.Context, name string, reference uint64) {
	st := p.endpoints[name]
	block, latency, err := p.rawProbe(ctx, st.cfg)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.health.LastCheck = time.Now()
	if err != nil {
		st.health.ConsecutiveFailures++
		st.health.LastError = err
		if st.health.ConsecutiveFailures >= p.maxFailures {
			st.health.Healthy = false
		}
		metrics.SetRPCEndpointHealth(name, st.health.Healthy)
		return
	}

	st.health.Latency = latency
	st.health.LatestBlock = block
	lag := uint64(0)
	if reference > block {
		lag = reference - block
	}
	healthy := lag <= st.cfg.MaxBlockLag
	if healthy {
		st.health.ConsecutiveFailures = 0
		st.health.LastError = nil
	} else {
		st.health.ConsecutiveFailures++
		st.health.LastError = fmt.Errorf("block lag %d exceeds max %d", lag, st.cfg.MaxBlockLag)
	}
	st.health.Healthy = healthy
	metrics.SetRPCEndpointHealth(name, healthy)
	metrics.RecordRPCCall(name, "probe", latency)
}

// rawProbe issues the raw JSON-RPC probe call; used both for reference
// resolution and per-endpoint checks.
func (p *Pool) rawProbe(ctx context.Context, ep types.RpcEndpoint) (uint64, time.Duration, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	result, err := doJSONRPC(ctx, p.httpClient, ep.URL, ProbeMethod, nil)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}

	var hexBlock string
	if err := json.Unmarshal(result, &hexBlock); err != nil {
		return 0, latency, fmt.Errorf("decode block number: %w", err)
	}
	block, err := strconv.ParseUint(strings.TrimPrefix(hexBlock, "0x"), 16, 64)
	if err != nil {
		return 0, latency, fmt.Errorf("parse block number %q: %w", hexBlock, err)
	}
	return block, latency, nil
}

// GetClient returns a client bound to the current best primary endpoint:
// the healthy endpoint with highest weight, ties broken by lowest latency.
// If the configured primary is healthy and within max_consecutive_failures
// it is preferred; otherwise a new primary is selected and the promotion
// is logged.
func (p *Pool) GetClient() (*Client, error) {
	name, err := p.selectBest()
	if err != nil {
		return nil, err
	}
	return &Client{Endpoint: name, pool: p}, nil
}

func (p *Pool) selectBest() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	type candidate struct {
		name    string
		weight  int
		latency time.Duration
	}
	var healthy []candidate
	var currentPrimary string

	for _, name := range p.order {
		st := p.endpoints[name]
		h := st.snapshot()
		if st.cfg.IsPrimary {
			currentPrimary = name
		}
		if h.Healthy {
			healthy = append(healthy, candidate{name: name, weight: st.cfg.Weight, latency: h.Latency})
		}
	}

	if len(healthy) == 0 {
		return "", errs.UpstreamUnhealthy("all")
	}

	if currentPrimary != "" {
		for _, c := range healthy {
			if c.name == currentPrimary {
				return currentPrimary, nil
			}
		}
	}

	sort.Slice(healthy, func(i, j int) bool {
		if healthy[i].weight != healthy[j].weight {
			return healthy[i].weight > healthy[j].weight
		}
		return healthy[i].latency < healthy[j].latency
	})

	selected := healthy[0].name
	if selected != currentPrimary {
		p.log.WithField("endpoint", selected).Info("rpcpool: promoted new primary endpoint")
		metrics.RecordFailover()
	}
	return selected, nil
}

// GetStickyClient returns the endpoint previously bound to simID if it
// remains healthy; otherwise it binds the current primary and returns
// that instead. The caller must eventually call Release(simID).
func (p *Pool) GetStickyClient(simID string) (*Client, error) {
	p.mu.Lock()
	if name, ok := p.sticky[simID]; ok {
		st, exists := p.endpoints[name]
		if exists && st.snapshot().Healthy {
			p.mu.Unlock()
			return &Client{Endpoint: name, pool: p}, nil
		}
		delete(p.sticky, simID)
	}
	p.mu.Unlock()

	name, err := p.selectBest()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.sticky[simID] = name
	p.mu.Unlock()
	return &Client{Endpoint: name, pool: p}, nil
}

// Release drops the sticky binding for simID, if any.
func (p *Pool) Release(simID string) {
	p.mu.Lock()
	delete(p.sticky, simID)
	p.mu.Unlock()
}

// Endpoints returns a snapshot of every endpoint's current health.
func (p *Pool) Endpoints() map[string]types.EndpointHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string]types.EndpointHealth, len(p.endpoints))
	for name, st := range p.endpoints {
		result[name] = st.snapshot()
	}
	return result
}

// HealthyCount returns the number of currently healthy endpoints.
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, st := range p.endpoints {
		if st.snapshot().Healthy {
			n++
		}
	}
	return n
}

// call issues a JSON-RPC request against the named endpoint through its
// circuit breaker, recording health/metrics on success or failure.
func (p *Pool) call(ctx context.Context, name, method string, params []any) (json.RawMessage, error) {
	p.mu.RLock()
	st, ok := p.endpoints[name]
	p.mu.RUnlock()
	if !ok {
		return nil, errs.UpstreamUnhealthy(name)
	}

	if err := st.limiter.Wait(ctx); err != nil {
		return nil, errs.UpstreamTimeout(name, err)
	}

	start := time.Now()
	result, err := st.breaker.Execute(func() (json.RawMessage, error) {
		ctx, cancel := context.WithTimeout(ctx, st.cfg.Timeout)
		defer cancel()
		return doJSONRPC(ctx, p.httpClient, st.cfg.URL, method, params)
	})
	latency := time.Since(start)

	if err != nil {
		st.mu.Lock()
		st.health.ConsecutiveFailures++
		st.health.LastError = err
		if st.health.ConsecutiveFailures >= p.maxFailures {
			st.health.Healthy = false
		}
		st.mu.Unlock()
		metrics.RecordRPCCall(name, "error", latency)
		return nil, errs.UpstreamTimeout(name, err)
	}

	metrics.RecordRPCCall(name, "ok", latency)
	return result, nil
}

// ExecuteWithFailover runs fn against the best endpoint, retrying on
// failure with exponential backoff, up to maxRetries retries after the
// first attempt. Each retry goes to the highest-weight healthy endpoint
// not yet tried in this call; once every healthy endpoint has been tried,
// retries go to the current best endpoint again.
func (p *Pool) ExecuteWithFailover(ctx context.Context, maxRetries int, fn func(c *Client) error) error {
	attempt := 0
	tried := make(map[string]bool)
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)), ctx)

	return backoff.Retry(func() error {
		attempt++
		client, err := p.GetClient()
		if err != nil {
			return err
		}
		if tried[client.Endpoint] {
			var next *endpointState
			p.mu.RLock()
			for _, name := range p.order {
				st := p.endpoints[name]
				if !tried[name] && st.snapshot().Healthy && (next == nil || st.cfg.Weight > next.cfg.Weight) {
					next = st
				}
			}
			p.mu.RUnlock()
			if next != nil {
				client = &Client{Endpoint: next.cfg.Name, pool: p}
			}
		}
		tried[client.Endpoint] = true
		if err := fn(client); err != nil {
			p.log.WithField("endpoint", client.Endpoint).WithField("attempt", attempt).
				WithError(err).Warn("rpcpool: execute attempt failed")
			return err
		}
		return nil
	}, policy)
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID int `json:"id"`
}

func doJSONRPC(ctx context.Context, client *http.Client, url, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc http status %d", resp.StatusCode)
	}

	var decoded jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}
