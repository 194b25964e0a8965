package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCycleIncrementsCounters(t *testing.T) {
	before := testutil.ToFloat64(CyclesTotal.WithLabelValues("ok"))
	RecordCycle("ok", 5, 10*time.Millisecond)
	after := testutil.ToFloat64(CyclesTotal.WithLabelValues("ok"))
	assert.Equal(t, before+1, after)
}

func TestRecordDispatchAndProfit(t *testing.T) {
	RecordDispatch("twohop", "success")
	before := testutil.ToFloat64(ProfitTotal.WithLabelValues("twohop"))
	RecordProfit("twohop", 12.5)
	after := testutil.ToFloat64(ProfitTotal.WithLabelValues("twohop"))
	assert.Equal(t, before+12.5, after)
}

func TestRecordProfitIgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(ProfitTotal.WithLabelValues("noop-strategy"))
	RecordProfit("noop-strategy", -5)
	RecordProfit("noop-strategy", 0)
	after := testutil.ToFloat64(ProfitTotal.WithLabelValues("noop-strategy"))
	assert.Equal(t, before, after)
}

func TestSetRPCEndpointHealth(t *testing.T) {
	SetRPCEndpointHealth("primary", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(RPCEndpointHealth.WithLabelValues("primary")))
	SetRPCEndpointHealth("primary", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(RPCEndpointHealth.WithLabelValues("primary")))
}

func TestRecordClockDrift(t *testing.T) {
	RecordClockDrift(250*time.Millisecond, 2)
	assert.Equal(t, 0.25, testutil.ToFloat64(ClockDriftSeconds))
	assert.Equal(t, 2.0, testutil.ToFloat64(ClockDriftTier))
}

func TestHandlerServesMetrics(t *testing.T) {
	RecordMatrixEvaluation("admitted")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "searcher_matrix_evaluations_total")
}

func TestInstrumentHandlerTracksRequests(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := InstrumentHandler(inner)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "418")))
}

func TestCanonicalPathCollapsesToFirstSegment(t *testing.T) {
	assert.Equal(t, "/", canonicalPath(""))
	assert.Equal(t, "/", canonicalPath("/"))
	assert.Equal(t, "/stats", canonicalPath("/stats"))
	assert.Equal(t, "/stats", canonicalPath("/stats/recent"))
}
