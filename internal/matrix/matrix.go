// Package matrix builds and serves the compatibility matrix: the set of
// (strategy, chain, venue, asset pair, lender?) tuples admissible for
// execution, cached for a TTL and regenerated under copy-on-write so
// readers never observe a half-built snapshot (spec §4.6, §5).
package matrix

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"github.com/r3e-network/mev-searcher/internal/strategy"
	"github.com/r3e-network/mev-searcher/internal/types"
	"github.com/r3e-network/mev-searcher/pkg/logger"
)

// VenueInfo is one configured on-chain venue usable by the matrix builder.
type VenueInfo struct {
	Name              string
	Chain             string
	Active            bool
	SupportsFlashSwap bool
	TWAPStability     float64
	GasOverhead       uint64
	LiquidityScore    float64 // combined liquidity score, pre-scaling
}

// LenderInfo is one configured flash-loan source.
type LenderInfo struct {
	Name            string
	Chain           string
	Healthy         bool
	SupportedAssets map[string]bool
}

// AssetInfo describes one token's whitelist/blacklist and trade-size cap.
type AssetInfo struct {
	Symbol      string
	Whitelisted bool
	MaxTrade    *uint256.Int
}

// Inputs is the static universe the matrix is built from. AssetBlacklist
// on a Requirements entry is consulted per-strategy on top of the global
// whitelist in Assets.
type Inputs struct {
	Strategies []strategy.Strategy
	Venues     []VenueInfo
	Lenders    []LenderInfo
	Assets     map[string]AssetInfo
}

// SourceFunc supplies the current static universe to (re)build a matrix from.
type SourceFunc func() Inputs

// Matrix holds a copy-on-write snapshot of CompatibilityEntry rows,
// rebuilt on demand once the TTL elapses. Readers of Snapshot never block
// on a concurrent rebuild; they see the previous snapshot until the new
// one is published (spec §5: "readers take a reference that remains
// valid until dropped").
type Matrix struct {
	snapshot  atomic.Pointer[[]types.CompatibilityEntry]
	builtAt   atomic.Int64 // unix nanos of last successful build
	ttl       time.Duration
	source    SourceFunc
	log       *logger.Logger
	buildLock sync.Mutex // serializes concurrent rebuild attempts
}

// New returns a Matrix that rebuilds from source at most once per ttl.
// An empty snapshot is installed immediately so Snapshot never blocks
// on the first caller.
func New(ttl time.Duration, source SourceFunc, log *logger.Logger) *Matrix {
	if log == nil {
		log = logger.NewDefault("matrix")
	}
	m := &Matrix{ttl: ttl, source: source, log: log}
	empty := make([]types.CompatibilityEntry, 0)
	m.snapshot.Store(&empty)
	return m
}

// Snapshot returns the current cached entries, triggering a synchronous
// rebuild first if the TTL has elapsed.
func (m *Matrix) Snapshot(ctx context.Context) []types.CompatibilityEntry {
	if m.stale() {
		if err := m.Refresh(ctx); err != nil {
			m.log.WithError(err).Warn("matrix refresh failed, serving stale snapshot")
		}
	}
	return *m.snapshot.Load()
}

func (m *Matrix) stale() bool {
	last := m.builtAt.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) >= m.ttl
}

// Refresh rebuilds the snapshot if the TTL has elapsed and returns
// without rebuilding otherwise. Concurrent callers that find it stale
// collapse onto a single rebuild; the lock is held only for the
// duration of the build, not for subsequent reads.
func (m *Matrix) Refresh(ctx context.Context) error {
	m.buildLock.Lock()
	defer m.buildLock.Unlock()

	if !m.stale() {
		return nil
	}

	inputs := m.source()
	entries := build(inputs)
	m.snapshot.Store(&entries)
	m.builtAt.Store(time.Now().UnixNano())
	m.log.WithField("entries", len(entries)).Debug("compatibility matrix rebuilt")
	return nil
}

// Lookup finds the entry for an exact tuple within the current snapshot.
func (m *Matrix) Lookup(ctx context.Context, strategyName, chain, venue, assetA, assetB, lender string) (types.CompatibilityEntry, bool) {
	for _, e := range m.Snapshot(ctx) {
		if e.Strategy == strategyName && e.Chain == chain && e.Venue == venue &&
			sameAssetPair(e.AssetA, e.AssetB, assetA, assetB) && e.Lender == lender {
			return e, true
		}
	}
	return types.CompatibilityEntry{}, false
}

func sameAssetPair(a1, b1, a2, b2 string) bool {
	return (a1 == a2 && b1 == b2) || (a1 == b2 && b1 == a2)
}

// build evaluates the admission rules in spec §4.6 over the full
// strategy×venue×asset-pair×lender cross product.
func build(in Inputs) []types.CompatibilityEntry {
	entries := make([]types.CompatibilityEntry, 0, len(in.Strategies)*len(in.Venues))

	venuesByChain := map[string][]VenueInfo{}
	for _, v := range in.Venues {
		venuesByChain[v.Chain] = append(venuesByChain[v.Chain], v)
	}
	lendersByChain := map[string][]LenderInfo{}
	for _, l := range in.Lenders {
		lendersByChain[l.Chain] = append(lendersByChain[l.Chain], l)
	}

	for _, strat := range in.Strategies {
		reqs := strat.Requirements()
		for _, chain := range strat.SupportedChains() {
			for _, venue := range venuesByChain[chain] {
				for _, pair := range assetPairs(in.Assets) {
					entries = append(entries, evaluate(strat.Name(), chain, venue, pair, reqs, in.Assets, lendersByChain[chain]))
				}
			}
		}
	}
	return entries
}

type assetPair struct {
	a, b AssetInfo
}

// assetPairs enumerates distinct unordered pairs of all configured assets;
// the whitelist is checked later, per pair, by evaluate.
func assetPairs(assets map[string]AssetInfo) []assetPair {
	symbols := make([]string, 0, len(assets))
	for sym := range assets {
		symbols = append(symbols, sym)
	}
	pairs := make([]assetPair, 0, len(symbols)*len(symbols)/2)
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			pairs = append(pairs, assetPair{a: assets[symbols[i]], b: assets[symbols[j]]})
		}
	}
	return pairs
}

func evaluate(strategyName, chain string, venue VenueInfo, pair assetPair, reqs strategy.Requirements, assets map[string]AssetInfo, lenders []LenderInfo) types.CompatibilityEntry {
	entry := types.CompatibilityEntry{
		Strategy:     strategyName,
		Chain:        chain,
		Venue:        venue.Name,
		AssetA:       pair.a.Symbol,
		AssetB:       pair.b.Symbol,
		EstimatedGas: venue.GasOverhead + uint64(reqs.Complexity)*25000,
		MinProfitBps: reqs.MinProfitBps,
		MaxPosition:  maxPosition(pair.a, pair.b),
	}

	var reasons []string
	if !venue.Active {
		reasons = append(reasons, "venue inactive")
	}
	if venue.TWAPStability < reqs.MinTWAPStability {
		reasons = append(reasons, fmt.Sprintf("TWAP stability %.2f < required %.2f", venue.TWAPStability, reqs.MinTWAPStability))
	}
	if reqs.RequiresFlashSwap && !venue.SupportsFlashSwap {
		reasons = append(reasons, "venue does not support flash swap")
	}
	if reqs.RequiresFlashLoan {
		lender, ok := healthyLender(lenders, pair.a.Symbol, pair.b.Symbol)
		if !ok {
			reasons = append(reasons, "no healthy lender supports both assets")
		} else {
			entry.Lender = lender
		}
	}
	if !pair.a.Whitelisted || !pair.b.Whitelisted {
		reasons = append(reasons, "asset not whitelisted")
	}
	if reqs.AssetBlacklist[pair.a.Symbol] || reqs.AssetBlacklist[pair.b.Symbol] {
		reasons = append(reasons, "asset blacklisted for strategy")
	}
	if venue.LiquidityScore*100000 < reqs.MinLiquidityUSD {
		reasons = append(reasons, "insufficient liquidity")
	}

	entry.FailureReasons = reasons
	entry.Admissible = len(reasons) == 0
	return entry
}

func healthyLender(lenders []LenderInfo, assetA, assetB string) (string, bool) {
	for _, l := range lenders {
		if l.Healthy && l.SupportedAssets[assetA] && l.SupportedAssets[assetB] {
			return l.Name, true
		}
	}
	return "", false
}

func maxPosition(a, b AssetInfo) *uint256.Int {
	if a.MaxTrade == nil {
		return b.MaxTrade
	}
	if b.MaxTrade == nil {
		return a.MaxTrade
	}
	if a.MaxTrade.Lt(b.MaxTrade) {
		return a.MaxTrade.Clone()
	}
	return b.MaxTrade.Clone()
}
