// Package reference holds one example Strategy implementation so the
// engine, gate, and matrix have something concrete to exercise in tests
// (spec §4.5; SPEC_FULL §6 Non-goals: "no specific arbitrage algorithm
// implementations beyond the one reference strategy added for
// testability").
package reference

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/r3e-network/mev-searcher/internal/chainconn"
	"github.com/r3e-network/mev-searcher/internal/errs"
	"github.com/r3e-network/mev-searcher/internal/strategy"
	"github.com/r3e-network/mev-searcher/internal/types"
)

// TwoHop round-trips an input token through an intermediate token across
// two venues on the same chain (A -> B on venue[0], B -> A on venue[1])
// and profits on the spread.
type TwoHop struct {
	connectors     map[string]chainconn.Connector // keyed by chain ID
	requirements   strategy.Requirements
	simulationMode func() bool
}

// NewTwoHop builds the strategy over one Connector per supported chain.
// simulationMode is polled by Execute to enforce spec §4.5's "may only
// be invoked when simulation_mode == false".
func NewTwoHop(connectors map[string]chainconn.Connector, requirements strategy.Requirements, simulationMode func() bool) *TwoHop {
	return &TwoHop{connectors: connectors, requirements: requirements, simulationMode: simulationMode}
}

func (s *TwoHop) Name() string { return "twohop" }

func (s *TwoHop) SupportedChains() []string {
	chains := make([]string, 0, len(s.connectors))
	for chain := range s.connectors {
		chains = append(chains, chain)
	}
	return chains
}

func (s *TwoHop) Requirements() strategy.Requirements { return s.requirements }

// RiskScore is a deterministic function of the opportunity's own fields
// plus a price-impact read (a quote, not an execution) on the first hop.
func (s *TwoHop) RiskScore(ctx context.Context, opp *types.Opportunity) (float64, error) {
	conn, ok := s.connectors[opp.SourceChain]
	if !ok || len(opp.Venues) < 2 {
		return 1.0, nil
	}

	score := 0.0
	if opp.CompetitionExtreme {
		score += 0.4
	}
	if opp.RequiresFlashLoan {
		score += 0.2
	}

	quote, err := conn.Quote(ctx, opp.Venues[0], opp.TokenIn, opp.TokenOut, opp.InputAmount)
	if err == nil {
		impact := float64(quote.PriceImpactBps) / 10000.0
		score += impact
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, nil
}

// Simulate quotes both hops and reports the predicted round-trip profit
// without ever calling ExecuteSwap.
func (s *TwoHop) Simulate(ctx context.Context, opp *types.Opportunity) (types.ExecutionResult, error) {
	start := time.Now()
	conn, ok := s.connectors[opp.SourceChain]
	if !ok {
		return failedResult(opp, types.ErrorKindUpstream, start), errs.Wrap(errs.ErrCodeUpstreamUnhealthy, fmt.Sprintf("no connector for chain %s", opp.SourceChain), nil)
	}
	if len(opp.Venues) < 2 {
		return failedResult(opp, types.ErrorKindInsufficientLiquidity, start), errs.New(errs.ErrCodeInsufficientLiquidity, "twohop requires exactly two venues").WithDetails("opportunity_id", opp.ID)
	}

	hop1, err := conn.Quote(ctx, opp.Venues[0], opp.TokenIn, opp.TokenOut, opp.InputAmount)
	if err != nil {
		return failedResult(opp, types.ErrorKindUpstream, start), err
	}
	hop2, err := conn.Quote(ctx, opp.Venues[1], opp.TokenOut, opp.TokenIn, hop1.OutputAmount)
	if err != nil {
		return failedResult(opp, types.ErrorKindUpstream, start), err
	}

	gas1, err := conn.EstimateGas(ctx, opp.Venues[0])
	if err != nil {
		gas1 = 0
	}
	gas2, err := conn.EstimateGas(ctx, opp.Venues[1])
	if err != nil {
		gas2 = 0
	}

	profit := roundTripProfit(opp.InputAmount, hop2.OutputAmount)
	outcome := types.OutcomeSuccess
	kind := types.ErrorKindNone
	if profit <= 0 {
		outcome = types.OutcomeFailed
		kind = types.ErrorKindUnprofitable
	}

	return types.ExecutionResult{
		OpportunityID: opp.ID,
		Outcome:       outcome,
		ActualProfit:  profit,
		GasUsed:       gas1 + gas2,
		ErrorKind:     kind,
		WallTime:      time.Since(start),
	}, nil
}

// Execute performs the real round-trip, passing opp.ID as the sticky
// session key to both swaps, and refuses to dispatch once opp has
// expired. The connector releases the binding after each swap, so the
// two swaps are not guaranteed to run against the same endpoint.
func (s *TwoHop) Execute(ctx context.Context, opp *types.Opportunity) (types.ExecutionResult, error) {
	start := time.Now()
	if s.simulationMode != nil && s.simulationMode() {
		return failedResult(opp, types.ErrorKindNone, start), errs.New(errs.ErrCodeConfigInvalid, "execute called while simulation_mode=true")
	}
	if opp.Expired(time.Now()) {
		return failedResult(opp, types.ErrorKindNone, start), errs.OpportunityExpired(opp.ID)
	}

	conn, ok := s.connectors[opp.SourceChain]
	if !ok {
		return failedResult(opp, types.ErrorKindUpstream, start), errs.Wrap(errs.ErrCodeUpstreamUnhealthy, fmt.Sprintf("no connector for chain %s", opp.SourceChain), nil)
	}
	if len(opp.Venues) < 2 {
		return failedResult(opp, types.ErrorKindInsufficientLiquidity, start), errs.New(errs.ErrCodeInsufficientLiquidity, "twohop requires exactly two venues").WithDetails("opportunity_id", opp.ID)
	}

	mid, err := conn.ExecuteSwap(ctx, opp.Venues[0], opp.TokenIn, opp.TokenOut, opp.InputAmount, opp.ID)
	if err != nil {
		return failedResult(opp, types.ErrorKindUpstream, start), err
	}
	out, err := conn.ExecuteSwap(ctx, opp.Venues[1], opp.TokenOut, opp.TokenIn, mid, opp.ID)
	if err != nil {
		return failedResult(opp, types.ErrorKindUpstream, start), err
	}

	profit := roundTripProfit(opp.InputAmount, out)
	outcome := types.OutcomeSuccess
	kind := types.ErrorKindNone
	if profit <= 0 {
		outcome = types.OutcomeFailed
		kind = types.ErrorKindSlippage
	}

	return types.ExecutionResult{
		OpportunityID: opp.ID,
		Outcome:       outcome,
		ActualProfit:  profit,
		GasUsed:       opp.GasEstimate,
		ErrorKind:     kind,
		WallTime:      time.Since(start),
	}, nil
}

func roundTripProfit(input, output *uint256.Int) float64 {
	if input == nil || output == nil {
		return 0
	}
	if output.Lt(input) {
		diff := new(uint256.Int).Sub(input, output)
		return -float64(diff.Uint64())
	}
	diff := new(uint256.Int).Sub(output, input)
	return float64(diff.Uint64())
}

func failedResult(opp *types.Opportunity, kind types.ErrorKind, start time.Time) types.ExecutionResult {
	return types.ExecutionResult{
		OpportunityID: opp.ID,
		Outcome:       types.OutcomeFailed,
		ErrorKind:     kind,
		WallTime:      time.Since(start),
	}
}
