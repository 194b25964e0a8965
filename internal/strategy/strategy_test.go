package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mev-searcher/internal/types"
)

type stubStrategy struct {
	name string
}

func (s stubStrategy) Name() string                    { return s.name }
func (s stubStrategy) SupportedChains() []string        { return []string{"ethereum"} }
func (s stubStrategy) Requirements() Requirements        { return Requirements{} }
func (s stubStrategy) RiskScore(ctx context.Context, opp *types.Opportunity) (float64, error) {
	return 0.1, nil
}
func (s stubStrategy) Simulate(ctx context.Context, opp *types.Opportunity) (types.ExecutionResult, error) {
	return types.ExecutionResult{Outcome: types.OutcomeSuccess}, nil
}
func (s stubStrategy) Execute(ctx context.Context, opp *types.Opportunity) (types.ExecutionResult, error) {
	return types.ExecutionResult{Outcome: types.OutcomeSuccess}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubStrategy{name: "twohop"})

	s, ok := reg.Get("twohop")
	require.True(t, ok)
	assert.Equal(t, "twohop", s.Name())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistryNamesAndAll(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubStrategy{name: "a"})
	reg.Register(stubStrategy{name: "b"})

	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())
	assert.Len(t, reg.All(), 2)
}

func TestRegistryReplaceIsCopyOnWrite(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubStrategy{name: "a"})
	snapshotBefore := reg.All()

	reg.Register(stubStrategy{name: "b"})

	assert.Len(t, snapshotBefore, 1, "prior snapshot must not observe the later registration")
	assert.Len(t, reg.All(), 2)
}
