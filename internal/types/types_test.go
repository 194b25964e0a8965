package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpportunityExpired(t *testing.T) {
	now := time.Now()
	opp := &Opportunity{ExpiresAt: now.Add(-time.Second)}
	assert.True(t, opp.Expired(now))

	opp2 := &Opportunity{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, opp2.Expired(now))
}

func TestOpportunityExpiredZeroDeadlineNeverExpires(t *testing.T) {
	opp := &Opportunity{}
	assert.False(t, opp.Expired(time.Now().Add(24*time.Hour)))
}

func TestAdmissionRequestExpiredAtExactDeadline(t *testing.T) {
	now := time.Now()
	req := &AdmissionRequest{Deadline: now}
	assert.True(t, req.Expired(now), "deadline exactly equal to now counts as expired")
}

func TestProfitFixed8RoundsToNearest(t *testing.T) {
	assert.Equal(t, int64(12345678), ProfitFixed8(0.12345678))
	assert.Equal(t, int64(-12345678), ProfitFixed8(-0.12345678))
	assert.Equal(t, int64(0), ProfitFixed8(0))
}

func TestEngineStatsTotalExecutions(t *testing.T) {
	s := EngineStats{Successful: 7, Failed: 3}
	assert.Equal(t, uint64(10), s.TotalExecutions())
}

func TestCompatibilityEntryMinProfitThreshold(t *testing.T) {
	e := CompatibilityEntry{MinProfitBps: 50}
	assert.InDelta(t, 0.005, e.MinProfitThreshold(), 1e-9)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "low", PriorityLow.String())
	assert.True(t, PriorityCritical > PriorityHigh)
	assert.True(t, PriorityHigh > PriorityNormal)
	assert.True(t, PriorityNormal > PriorityLow)
}

func TestExecutionResultSuccess(t *testing.T) {
	r := ExecutionResult{Outcome: OutcomeSuccess}
	assert.True(t, r.Success())
	r.Outcome = OutcomeFailed
	assert.False(t, r.Success())
}
