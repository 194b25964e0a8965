package engine

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/r3e-network/mev-searcher/internal/chainconn"
	"github.com/r3e-network/mev-searcher/internal/config"
	"github.com/r3e-network/mev-searcher/internal/types"
)

// scan implements spec §4.2: for each configured trading pair and each
// connected chain, obtain the best quote via the chain connector,
// keeping only opportunities whose venues are admissible per the
// compatibility matrix and whose expected profit clears the floor.
// Detection is pair-parallel: one goroutine per trading pair fans out
// over a WaitGroup and reports into a buffered channel sized to the
// pair count, the same bounded fan-out shape as infrastructure/chain's
// checkAllEndpoints (carried into this repo as internal/rpcpool's
// probeAll). The scanner retains no state across calls; everything it
// needs comes from its arguments and the matrix's current snapshot.
func (e *Engine) scan(ctx context.Context) ([]*types.Opportunity, error) {
	floor := e.cfg.Engine.MinProfitThreshold
	entries := e.matrix.Snapshot(ctx)
	pairs := e.cfg.Engine.TradingPairs

	results := make(chan []*types.Opportunity, len(pairs))
	var wg sync.WaitGroup
	for _, pair := range pairs {
		pair := pair
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.scanPair(ctx, entries, pair, floor)
		}()
	}
	wg.Wait()
	close(results)

	var opportunities []*types.Opportunity
	for r := range results {
		opportunities = append(opportunities, r...)
	}
	return opportunities, nil
}

// scanPair quotes every admissible venue pair for one trading pair
// across every connected chain. It is the per-pair unit of work scan
// fans out over.
func (e *Engine) scanPair(ctx context.Context, entries []types.CompatibilityEntry, pair config.TradingPair, floor float64) []*types.Opportunity {
	amountIn, err := parseAmount(pair.AmountIn)
	if err != nil {
		e.log.WithError(err).WithField("pair", pair.TokenA+"/"+pair.TokenB).Warn("skipping trading pair with unparseable amount")
		return nil
	}

	var opportunities []*types.Opportunity
	for chain, conn := range e.connectors {
		for _, vp := range admissibleVenuePairs(entries, chain, pair.TokenA, pair.TokenB) {
			if opp, ok := e.quoteRoundTrip(ctx, conn, chain, vp, pair, amountIn, floor); ok {
				opportunities = append(opportunities, opp)
			}
		}
	}
	return opportunities
}

type venuePair struct {
	strategy string
	venueA   string
	venueB   string
}

// admissibleVenuePairs groups the matrix's admissible entries for one
// (chain, asset pair) by strategy and returns one round-trip candidate
// per strategy that has at least two eligible venues.
func admissibleVenuePairs(entries []types.CompatibilityEntry, chain, tokenA, tokenB string) []venuePair {
	byStrategy := map[string][]string{}
	for _, entry := range entries {
		if entry.Chain != chain || !entry.Admissible {
			continue
		}
		if !matchesPair(entry.AssetA, entry.AssetB, tokenA, tokenB) {
			continue
		}
		byStrategy[entry.Strategy] = appendUniqueVenue(byStrategy[entry.Strategy], entry.Venue)
	}

	pairs := make([]venuePair, 0, len(byStrategy))
	for strat, venues := range byStrategy {
		if len(venues) < 2 {
			continue
		}
		pairs = append(pairs, venuePair{strategy: strat, venueA: venues[0], venueB: venues[1]})
	}
	return pairs
}

func matchesPair(a1, b1, a2, b2 string) bool {
	return (a1 == a2 && b1 == b2) || (a1 == b2 && b1 == a2)
}

func appendUniqueVenue(venues []string, venue string) []string {
	for _, v := range venues {
		if v == venue {
			return venues
		}
	}
	return append(venues, venue)
}

// quoteRoundTrip prices a tokenA->tokenB->tokenA round trip across the
// two candidate venues and builds an Opportunity if the profit clears
// floor.
func (e *Engine) quoteRoundTrip(ctx context.Context, conn chainconn.Connector, chain string, vp venuePair, pair config.TradingPair, amountIn *uint256.Int, floor float64) (*types.Opportunity, bool) {
	hop1, err := conn.Quote(ctx, vp.venueA, pair.TokenA, pair.TokenB, amountIn)
	if err != nil {
		return nil, false
	}
	hop2, err := conn.Quote(ctx, vp.venueB, pair.TokenB, pair.TokenA, hop1.OutputAmount)
	if err != nil {
		return nil, false
	}

	profit := diffToFloat(amountIn, hop2.OutputAmount)
	if profit < floor {
		return nil, false
	}

	now := time.Now()
	ttl := e.cfg.Engine.ScanInterval()
	if ttl <= 0 {
		ttl = time.Second
	}
	return &types.Opportunity{
		ID:             newOpportunityID(),
		StrategyKind:   vp.strategy,
		SourceChain:    chain,
		Venues:         []string{vp.venueA, vp.venueB},
		TokenIn:        pair.TokenA,
		TokenOut:       pair.TokenB,
		InputAmount:    amountIn,
		ExpectedOutput: hop2.OutputAmount,
		ExpectedProfit: profit,
		DetectedAt:     now,
		ExpiresAt:      now.Add(ttl),
		PriorityScore:  profit,
	}, true
}

func parseAmount(decimal string) (*uint256.Int, error) {
	return uint256.FromDecimal(decimal)
}

func diffToFloat(input, output *uint256.Int) float64 {
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
