package reference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mev-searcher/internal/chainconn"
	"github.com/r3e-network/mev-searcher/internal/strategy"
	"github.com/r3e-network/mev-searcher/internal/types"
)

// fakeConnector is a scripted chainconn.Connector double: each venue
// maps to a fixed output multiplier so hops can be composed predictably.
type fakeConnector struct {
	chainID     string
	multipliers map[string]uint64 // venue -> output = input * multiplier / 100
	gas         map[string]uint64
	quoteErr    map[string]error
	executeErr  map[string]error
}

func newFakeConnector(chainID string) *fakeConnector {
	return &fakeConnector{
		chainID:     chainID,
		multipliers: map[string]uint64{},
		gas:         map[string]uint64{},
		quoteErr:    map[string]error{},
		executeErr:  map[string]error{},
	}
}

func (f *fakeConnector) ChainID() string { return f.chainID }

func (f *fakeConnector) Venues(ctx context.Context) ([]chainconn.Venue, error) {
	return nil, nil
}

func (f *fakeConnector) Quote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn *uint256.Int) (chainconn.Quote, error) {
	if err := f.quoteErr[venue]; err != nil {
		return chainconn.Quote{}, err
	}
	mult := f.multipliers[venue]
	out := new(uint256.Int).Mul(amountIn, uint256.NewInt(mult))
	out = out.Div(out, uint256.NewInt(100))
	return chainconn.Quote{Venue: venue, OutputAmount: out, PriceImpactBps: 10}, nil
}

func (f *fakeConnector) EstimateGas(ctx context.Context, venue string) (uint64, error) {
	return f.gas[venue], nil
}

func (f *fakeConnector) ExecuteSwap(ctx context.Context, venue, tokenIn, tokenOut string, amountIn *uint256.Int, simID string) (*uint256.Int, error) {
	if err := f.executeErr[venue]; err != nil {
		return nil, err
	}
	mult := f.multipliers[venue]
	out := new(uint256.Int).Mul(amountIn, uint256.NewInt(mult))
	out = out.Div(out, uint256.NewInt(100))
	return out, nil
}

func baseOpp() *types.Opportunity {
	return &types.Opportunity{
		ID:          "opp-1",
		SourceChain: "eth",
		Venues:      []string{"venueA", "venueB"},
		TokenIn:     "USDC",
		TokenOut:    "WETH",
		InputAmount: uint256.NewInt(1_000_000),
		GasEstimate: 200_000,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestSimulateReportsProfitOnProfitableRoundTrip(t *testing.T) {
	conn := newFakeConnector("eth")
	conn.multipliers["venueA"] = 100 // 1:1
	conn.multipliers["venueB"] = 105 // +5%

	s := NewTwoHop(map[string]chainconn.Connector{"eth": conn}, strategy.Requirements{}, nil)
	result, err := s.Simulate(context.Background(), baseOpp())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Outcome)
	assert.Greater(t, result.ActualProfit, 0.0)
}

func TestSimulateReportsUnprofitableRoundTrip(t *testing.T) {
	conn := newFakeConnector("eth")
	conn.multipliers["venueA"] = 100
	conn.multipliers["venueB"] = 95 // -5%

	s := NewTwoHop(map[string]chainconn.Connector{"eth": conn}, strategy.Requirements{}, nil)
	result, err := s.Simulate(context.Background(), baseOpp())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, result.Outcome)
	assert.Equal(t, types.ErrorKindUnprofitable, result.ErrorKind)
}

func TestSimulatePropagatesQuoteError(t *testing.T) {
	conn := newFakeConnector("eth")
	conn.quoteErr["venueA"] = errors.New("upstream down")

	s := NewTwoHop(map[string]chainconn.Connector{"eth": conn}, strategy.Requirements{}, nil)
	_, err := s.Simulate(context.Background(), baseOpp())
	assert.Error(t, err)
}

func TestExecuteRefusesWhenSimulationModeEnabled(t *testing.T) {
	conn := newFakeConnector("eth")
	conn.multipliers["venueA"] = 100
	conn.multipliers["venueB"] = 105

	s := NewTwoHop(map[string]chainconn.Connector{"eth": conn}, strategy.Requirements{}, func() bool { return true })
	_, err := s.Execute(context.Background(), baseOpp())
	assert.Error(t, err)
}

func TestExecuteRefusesExpiredOpportunity(t *testing.T) {
	conn := newFakeConnector("eth")
	s := NewTwoHop(map[string]chainconn.Connector{"eth": conn}, strategy.Requirements{}, func() bool { return false })

	opp := baseOpp()
	opp.ExpiresAt = time.Now().Add(-time.Minute)
	_, err := s.Execute(context.Background(), opp)
	assert.Error(t, err)
}

func TestExecuteSucceedsAndReturnsProfit(t *testing.T) {
	conn := newFakeConnector("eth")
	conn.multipliers["venueA"] = 100
	conn.multipliers["venueB"] = 110

	s := NewTwoHop(map[string]chainconn.Connector{"eth": conn}, strategy.Requirements{}, func() bool { return false })
	result, err := s.Execute(context.Background(), baseOpp())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Outcome)
	assert.Greater(t, result.ActualProfit, 0.0)
}

func TestRiskScoreIsHigherForExtremeCompetitionAndFlashLoan(t *testing.T) {
	conn := newFakeConnector("eth")
	conn.multipliers["venueA"] = 100
	s := NewTwoHop(map[string]chainconn.Connector{"eth": conn}, strategy.Requirements{}, nil)

	plain := baseOpp()
	risky := baseOpp()
	risky.CompetitionExtreme = true
	risky.RequiresFlashLoan = true

	plainScore, err := s.RiskScore(context.Background(), plain)
	require.NoError(t, err)
	riskyScore, err := s.RiskScore(context.Background(), risky)
	require.NoError(t, err)

	assert.Greater(t, riskyScore, plainScore)
}

func TestRiskScoreMaxesOutForUnsupportedChain(t *testing.T) {
	s := NewTwoHop(map[string]chainconn.Connector{}, strategy.Requirements{}, nil)
	score, err := s.RiskScore(context.Background(), baseOpp())
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestSupportedChainsListsConnectorKeys(t *testing.T) {
	conn := newFakeConnector("eth")
	s := NewTwoHop(map[string]chainconn.Connector{"eth": conn}, strategy.Requirements{}, nil)
	assert.Equal(t, []string{"eth"}, s.SupportedChains())
}
