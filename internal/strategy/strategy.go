// Package strategy defines the pluggable Strategy capability set and a
// name-based Registry (spec §4.5, §9: tagged-kind polymorphism, not a
// type hierarchy).
package strategy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/r3e-network/mev-searcher/internal/types"
)

// Strategy is a named object exposing risk scoring, dry-run simulation,
// and real execution over an Opportunity. risk_score must be
// deterministic given inputs and the strategy's static config and must
// not execute. execute may only run when simulationMode is false.
type Strategy interface {
	Name() string
	SupportedChains() []string
	Requirements() Requirements
	RiskScore(ctx context.Context, opp *types.Opportunity) (float64, error)
	Simulate(ctx context.Context, opp *types.Opportunity) (types.ExecutionResult, error)
	Execute(ctx context.Context, opp *types.Opportunity) (types.ExecutionResult, error)
}

// Requirements describes the static capabilities a strategy needs from
// the compatibility matrix (flash loan/swap, minimum TWAP stability).
type Requirements struct {
	RequiresFlashLoan  bool
	RequiresFlashSwap  bool
	MinTWAPStability   float64
	MinLiquidityUSD    float64
	Complexity         int // used to derive estimated_gas (matrix §4.6)
	MinProfitBps       uint64
	AssetBlacklist     map[string]bool
}

// Registry is a copy-on-write, name-keyed lookup of Strategies. Readers
// on hot paths never block a concurrent registration.
type Registry struct {
	strategies atomic.Pointer[map[string]Strategy]
	mu         sync.Mutex // serializes writers only
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]Strategy{}
	r.strategies.Store(&empty)
	return r
}

// Register adds or replaces a strategy by name via copy-on-write.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.strategies.Load()
	next := make(map[string]Strategy, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[s.Name()] = s
	r.strategies.Store(&next)
}

// Get returns the strategy registered under name, if any.
func (r *Registry) Get(name string) (Strategy, bool) {
	m := *r.strategies.Load()
	s, ok := m[name]
	return s, ok
}

// Names returns every registered strategy name.
func (r *Registry) Names() []string {
	m := *r.strategies.Load()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

// All returns a stable snapshot of every registered strategy.
func (r *Registry) All() []Strategy {
	m := *r.strategies.Load()
	result := make([]Strategy, 0, len(m))
	for _, s := range m {
		result = append(result, s)
	}
	return result
}
