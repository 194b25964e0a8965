package matrix

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mev-searcher/internal/strategy"
	"github.com/r3e-network/mev-searcher/internal/types"
)

type fakeStrategy struct {
	name   string
	chains []string
	reqs   strategy.Requirements
}

func (s fakeStrategy) Name() string                     { return s.name }
func (s fakeStrategy) SupportedChains() []string         { return s.chains }
func (s fakeStrategy) Requirements() strategy.Requirements { return s.reqs }
func (s fakeStrategy) RiskScore(context.Context, *types.Opportunity) (float64, error) {
	return 0, nil
}
func (s fakeStrategy) Simulate(context.Context, *types.Opportunity) (types.ExecutionResult, error) {
	return types.ExecutionResult{}, nil
}
func (s fakeStrategy) Execute(context.Context, *types.Opportunity) (types.ExecutionResult, error) {
	return types.ExecutionResult{}, nil
}

func baseInputs() Inputs {
	return Inputs{
		Strategies: []strategy.Strategy{fakeStrategy{
			name:   "twohop",
			chains: []string{"ethereum"},
			reqs: strategy.Requirements{
				MinTWAPStability: 0.5,
				MinLiquidityUSD:  1000,
				Complexity:       2,
				MinProfitBps:     50,
			},
		}},
		Venues: []VenueInfo{{
			Name:           "uniswap",
			Chain:          "ethereum",
			Active:         true,
			TWAPStability:  0.9,
			GasOverhead:    21000,
			LiquidityScore: 0.1, // *100000 = 10000 >= 1000
		}},
		Assets: map[string]AssetInfo{
			"USDC": {Symbol: "USDC", Whitelisted: true, MaxTrade: uint256.NewInt(1_000_000)},
			"WETH": {Symbol: "WETH", Whitelisted: true, MaxTrade: uint256.NewInt(500_000)},
		},
	}
}

func TestBuildAdmitsCompliantTuple(t *testing.T) {
	m := New(5*time.Minute, func() Inputs { return baseInputs() }, nil)
	entries := m.Snapshot(context.Background())
	require.Len(t, entries, 1)

	e := entries[0]
	assert.True(t, e.Admissible, "reasons: %v", e.FailureReasons)
	assert.Equal(t, uint64(21000+2*25000), e.EstimatedGas)
	assert.Equal(t, uint64(500_000), e.MaxPosition.Uint64())
}

func TestBuildRejectsInactiveVenue(t *testing.T) {
	in := baseInputs()
	in.Venues[0].Active = false
	m := New(5*time.Minute, func() Inputs { return in }, nil)

	entries := m.Snapshot(context.Background())
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Admissible)
	assert.Contains(t, entries[0].FailureReasons, "venue inactive")
}

func TestBuildRequiresFlashLoanLender(t *testing.T) {
	in := baseInputs()
	strat := in.Strategies[0].(fakeStrategy)
	strat.reqs.RequiresFlashLoan = true
	in.Strategies[0] = strat

	m := New(5*time.Minute, func() Inputs { return in }, nil)
	entries := m.Snapshot(context.Background())
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Admissible)
	assert.Contains(t, entries[0].FailureReasons, "no healthy lender supports both assets")

	in.Lenders = []LenderInfo{{
		Name:            "aave",
		Chain:           "ethereum",
		Healthy:         true,
		SupportedAssets: map[string]bool{"USDC": true, "WETH": true},
	}}
	m2 := New(5*time.Minute, func() Inputs { return in }, nil)
	entries2 := m2.Snapshot(context.Background())
	require.Len(t, entries2, 1)
	assert.True(t, entries2[0].Admissible)
	assert.Equal(t, "aave", entries2[0].Lender)
}

func TestSnapshotServesStaleUntilTTLElapses(t *testing.T) {
	calls := 0
	in := baseInputs()
	m := New(time.Hour, func() Inputs { calls++; return in }, nil)

	first := m.Snapshot(context.Background())
	second := m.Snapshot(context.Background())
	assert.Equal(t, 1, calls, "second Snapshot within TTL must not rebuild")
	assert.Equal(t, &first[0], &first[0]) // sanity
	_ = second
}

func TestRefreshForcesRebuild(t *testing.T) {
	calls := 0
	in := baseInputs()
	m := New(time.Hour, func() Inputs { calls++; return in }, nil)
	_ = m.Snapshot(context.Background())

	m.builtAt.Store(0) // force stale
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestLookupFindsReversedAssetPair(t *testing.T) {
	m := New(5*time.Minute, func() Inputs { return baseInputs() }, nil)
	m.Snapshot(context.Background())

	e, ok := m.Lookup(context.Background(), "twohop", "ethereum", "uniswap", "WETH", "USDC", "")
	require.True(t, ok)
	assert.True(t, e.Admissible)
}
