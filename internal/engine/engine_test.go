package engine

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mev-searcher/internal/chainconn"
	"github.com/r3e-network/mev-searcher/internal/config"
	"github.com/r3e-network/mev-searcher/internal/matrix"
	"github.com/r3e-network/mev-searcher/internal/statssink"
	"github.com/r3e-network/mev-searcher/internal/strategy"
	"github.com/r3e-network/mev-searcher/internal/types"
)

// fakeConnector returns a fixed-multiplier quote per venue so round
// trips are deterministically profitable or not.
type fakeConnector struct {
	chainID     string
	multipliers map[string]uint64 // output = input * multiplier / 100
	gas         uint64
}

func (f *fakeConnector) ChainID() string { return f.chainID }
func (f *fakeConnector) Venues(ctx context.Context) ([]chainconn.Venue, error) {
	return nil, nil
}
func (f *fakeConnector) Quote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn *uint256.Int) (chainconn.Quote, error) {
	mult := f.multipliers[venue]
	out := new(uint256.Int).Mul(amountIn, uint256.NewInt(mult))
	out = out.Div(out, uint256.NewInt(100))
	return chainconn.Quote{Venue: venue, OutputAmount: out}, nil
}
func (f *fakeConnector) EstimateGas(ctx context.Context, venue string) (uint64, error) {
	return f.gas, nil
}
func (f *fakeConnector) ExecuteSwap(ctx context.Context, venue, tokenIn, tokenOut string, amountIn *uint256.Int, simID string) (*uint256.Int, error) {
	mult := f.multipliers[venue]
	out := new(uint256.Int).Mul(amountIn, uint256.NewInt(mult))
	out = out.Div(out, uint256.NewInt(100))
	return out, nil
}

type fakeStrategy struct {
	name      string
	chains    []string
	reqs      strategy.Requirements
	riskScore float64
	result    types.ExecutionResult
}

func (s *fakeStrategy) Name() string                       { return s.name }
func (s *fakeStrategy) SupportedChains() []string           { return s.chains }
func (s *fakeStrategy) Requirements() strategy.Requirements { return s.reqs }
func (s *fakeStrategy) RiskScore(context.Context, *types.Opportunity) (float64, error) {
	return s.riskScore, nil
}
func (s *fakeStrategy) Simulate(ctx context.Context, opp *types.Opportunity) (types.ExecutionResult, error) {
	r := s.result
	r.OpportunityID = opp.ID
	return r, nil
}
func (s *fakeStrategy) Execute(ctx context.Context, opp *types.Opportunity) (types.ExecutionResult, error) {
	r := s.result
	r.OpportunityID = opp.ID
	return r, nil
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.RPC = []config.RPCEndpointConfig{{Name: "primary", URL: "http://localhost", Weight: 1, IsPrimary: true}}
	cfg.Engine.ScanIntervalMS = 50
	cfg.Engine.MaxConcurrentExecutions = 5
	cfg.Engine.MinProfitThreshold = 0
	cfg.Engine.TradingPairs = []config.TradingPair{{TokenA: "USDC", TokenB: "WETH", AmountIn: "1000000"}}
	cfg.Gate.MaxConcurrentSims = 5
	cfg.Gate.MaxQueueSize = 20
	cfg.Gate.SimulationTimeoutMS = 2000
	cfg.Gate.ResourceCheckIntervalMS = 50
	cfg.SimulationMode = true
	return cfg
}

func testMatrix(chain string) *matrix.Matrix {
	source := func() matrix.Inputs {
		return matrix.Inputs{
			Strategies: []strategy.Strategy{&fakeStrategy{name: "twohop", chains: []string{chain}}},
			Venues: []matrix.VenueInfo{
				{Name: "venueA", Chain: chain, Active: true, TWAPStability: 1, LiquidityScore: 1},
				{Name: "venueB", Chain: chain, Active: true, TWAPStability: 1, LiquidityScore: 1},
			},
			Assets: map[string]matrix.AssetInfo{
				"USDC": {Symbol: "USDC", Whitelisted: true, MaxTrade: uint256.NewInt(10_000_000)},
				"WETH": {Symbol: "WETH", Whitelisted: true, MaxTrade: uint256.NewInt(10_000_000)},
			},
		}
	}
	return matrix.New(time.Minute, source, nil)
}

func TestScanFindsProfitableRoundTrip(t *testing.T) {
	conn := &fakeConnector{chainID: "eth", multipliers: map[string]uint64{"venueA": 100, "venueB": 110}}
	e := New(testConfig(), map[string]chainconn.Connector{"eth": conn}, strategy.NewRegistry(), testMatrix("eth"), nil, nil, nil)

	opps, err := e.scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "twohop", opps[0].StrategyKind)
	assert.Greater(t, opps[0].ExpectedProfit, 0.0)
}

func TestScanDropsUnprofitableRoundTrip(t *testing.T) {
	conn := &fakeConnector{chainID: "eth", multipliers: map[string]uint64{"venueA": 100, "venueB": 90}}
	cfg := testConfig()
	cfg.Engine.MinProfitThreshold = 1
	e := New(cfg, map[string]chainconn.Connector{"eth": conn}, strategy.NewRegistry(), testMatrix("eth"), nil, nil, nil)

	opps, err := e.scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestRankComputesRiskAdjustedProfitAndSortsDescending(t *testing.T) {
	registry := strategy.NewRegistry()
	registry.Register(&fakeStrategy{name: "low-risk", chains: []string{"eth"}, riskScore: 0.1})
	registry.Register(&fakeStrategy{name: "high-risk", chains: []string{"eth"}, riskScore: 0.9})
	conn := &fakeConnector{chainID: "eth", gas: 0}
	e := New(testConfig(), map[string]chainconn.Connector{"eth": conn}, registry, testMatrix("eth"), nil, nil, nil)

	candidates := []*types.Opportunity{
		{ID: "a", StrategyKind: "high-risk", SourceChain: "eth", Venues: []string{"venueA"}, ExpectedProfit: 100},
		{ID: "b", StrategyKind: "low-risk", SourceChain: "eth", Venues: []string{"venueA"}, ExpectedProfit: 100},
	}

	ranked := e.rank(context.Background(), candidates)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].ID, "lower risk score must rank first at equal expected profit")
}

func TestRankSkipsUnknownStrategy(t *testing.T) {
	e := New(testConfig(), map[string]chainconn.Connector{}, strategy.NewRegistry(), testMatrix("eth"), nil, nil, nil)
	ranked := e.rank(context.Background(), []*types.Opportunity{{ID: "a", StrategyKind: "missing"}})
	assert.Empty(t, ranked)
}

func TestRunCycleExecutesAndUpdatesStats(t *testing.T) {
	conn := &fakeConnector{chainID: "eth", multipliers: map[string]uint64{"venueA": 100, "venueB": 110}}
	registry := strategy.NewRegistry()
	registry.Register(&fakeStrategy{
		name:   "twohop",
		chains: []string{"eth"},
		result: types.ExecutionResult{Outcome: types.OutcomeSuccess, ActualProfit: 42},
	})

	sink := statssink.NewMemSink(10)
	e := New(testConfig(), map[string]chainconn.Connector{"eth": conn}, registry, testMatrix("eth"), nil, sink, nil)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	require.Eventually(t, func() bool {
		return e.Stats().Executions > 0
	}, 2*time.Second, 10*time.Millisecond)

	stats := e.Stats()
	assert.GreaterOrEqual(t, stats.Successful, uint64(1))
	assert.Greater(t, stats.ProfitFixed8, int64(0))
}
