package engine

import (
	"context"
	"sort"

	"github.com/r3e-network/mev-searcher/internal/types"
)

// rank implements spec §4.1 step 3: for each candidate, obtain a
// risk_score from its strategy and a gas estimate from the chain
// connector, then compute adj = expected_profit*(1-risk_score) -
// gas_cost. Candidates with adj <= 0 are dropped here: spec §3's hard
// invariant is that an opportunity with risk_adjusted_profit <= 0 is
// never dispatched. The result is sorted descending, stable on tie.
func (e *Engine) rank(ctx context.Context, candidates []*types.Opportunity) []*types.Opportunity {
	ranked := make([]*types.Opportunity, 0, len(candidates))
	for _, opp := range candidates {
		strat, ok := e.registry.Get(opp.StrategyKind)
		if !ok {
			continue
		}

		riskScore, err := strat.RiskScore(ctx, opp)
		if err != nil {
			e.log.WithError(err).WithField("opportunity_id", opp.ID).Debug("risk score failed, dropping candidate")
			continue
		}

		var gasCost float64
		if conn, ok := e.connectors[opp.SourceChain]; ok && len(opp.Venues) > 0 {
			if gas, err := conn.EstimateGas(ctx, opp.Venues[0]); err == nil {
				opp.GasEstimate = gas
				gasCost = float64(gas)
			}
		}

		opp.RiskAdjustedProfit = opp.ExpectedProfit*(1-riskScore) - gasCost
		if opp.RiskAdjustedProfit <= 0 {
			e.log.WithField("opportunity_id", opp.ID).
				WithField("risk_adjusted_profit", opp.RiskAdjustedProfit).
				Debug("risk adjusted profit non-positive, dropping candidate")
			continue
		}
		ranked = append(ranked, opp)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RiskAdjustedProfit > ranked[j].RiskAdjustedProfit
	})
	return ranked
}
