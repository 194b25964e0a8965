// Package types holds the engine's shared data model (spec §3).
package types

import (
	"time"

	"github.com/holiman/uint256"
)

// Priority orders AdmissionRequests in the gate queue. Higher values
// strictly precede lower ones; ties break oldest-first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ExecutionOutcome classifies how an ExecutionResult concluded.
type ExecutionOutcome string

const (
	OutcomeSuccess  ExecutionOutcome = "success"
	OutcomeFailed   ExecutionOutcome = "failed"
	OutcomeSkipped  ExecutionOutcome = "skipped"
	OutcomeRejected ExecutionOutcome = "rejected"
	OutcomeTimedOut ExecutionOutcome = "timed_out"
)

// ErrorKind further qualifies a Failed/Rejected ExecutionResult.
type ErrorKind string

const (
	ErrorKindNone                  ErrorKind = ""
	ErrorKindUnprofitable          ErrorKind = "unprofitable"
	ErrorKindSlippage              ErrorKind = "slippage"
	ErrorKindInsufficientLiquidity ErrorKind = "insufficient_liquidity"
	ErrorKindUpstream              ErrorKind = "upstream"
	ErrorKindClockUnsafe           ErrorKind = "clock_unsafe"
	ErrorKindGateFull              ErrorKind = "queue_full"
	ErrorKindBackpressure          ErrorKind = "backpressure"
)

// Opportunity is a candidate arbitrage round-trip surfaced by a Scanner.
//
// Numeric semantics (spec §9): InputAmount/ExpectedOutput are 256-bit
// unsigned token amounts; ExpectedProfit/RiskAdjustedProfit are plain
// float64, acceptable for ranking only — the stats sink and any
// persisted profit total use a fixed-point (8 decimal) representation
// instead (see ProfitFixed8).
type Opportunity struct {
	ID                 string
	StrategyKind       string
	SourceChain        string
	Venues             []string // path of venues traversed
	TokenIn            string
	TokenOut           string
	InputAmount        *uint256.Int
	ExpectedOutput     *uint256.Int
	ExpectedProfit     float64 // ranking-only float
	GasEstimate        uint64
	RiskAdjustedProfit float64 // filled by Rank; 0 until then
	DetectedAt         time.Time
	ExpiresAt          time.Time
	PriorityScore      float64
	CompetitionExtreme bool
	RequiresFlashLoan  bool
}

// Expired reports whether the opportunity's deadline has passed as of now.
func (o *Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// ExecutionResult is the immutable outcome of dispatching one Opportunity.
type ExecutionResult struct {
	OpportunityID string
	Outcome       ExecutionOutcome
	ActualProfit  float64
	GasUsed       uint64
	ErrorKind     ErrorKind
	WallTime      time.Duration
}

func (r ExecutionResult) Success() bool { return r.Outcome == OutcomeSuccess }

// ProfitFixed8 converts a float64 profit into an 8-decimal fixed-point
// integer (hundred-millionths), the representation used by EngineStats
// and the stats sink to avoid compounding float error across cycles.
func ProfitFixed8(profit float64) int64 {
	return int64(profit*1e8 + signOf(profit)*0.5)
}

func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// EngineState is the engine's single mutable run-state instance.
type EngineState struct {
	IsRunning   bool
	StartedAt   time.Time
	CycleNumber uint64
}

// EngineStats accumulates counters/sums under a single exclusive writer.
// The ActualProfit sum is kept fixed-point (ProfitFixed8 units) so
// aggregation across cycles never loses precision to float drift; the
// GasUsed sum is a plain gas-unit total.
type EngineStats struct {
	Cycles        uint64
	CycleOverruns uint64
	ScanFailures  uint64
	Executions    uint64
	Successful    uint64
	Failed        uint64
	Rejected      uint64
	Timeouts      uint64
	ProfitFixed8  int64
	GasUsedTotal  uint64
}

// TotalExecutions returns successful+failed, the invariant spec §3 requires
// to hold at every observable moment.
func (s EngineStats) TotalExecutions() uint64 { return s.Successful + s.Failed }

// RpcEndpoint is a statically configured upstream chain endpoint.
type RpcEndpoint struct {
	Name            string
	URL             string
	Weight          int
	Timeout         time.Duration
	IsPrimary       bool
	SupportsMempool bool
	SupportsTrace   bool
	MaxBlockLag     uint64
}

// EndpointHealth is recomputed each probe interval by the RPC pool.
type EndpointHealth struct {
	LastCheck           time.Time
	Healthy             bool
	Latency             time.Duration
	LatestBlock         uint64
	ConsecutiveFailures int
	LastError           error
}

// StickySession binds a simulation id to an endpoint name.
type StickySession struct {
	SimID    string
	Endpoint string
	BoundAt  time.Time
}

// AdmissionRequest enters the gate's bounded priority queue.
type AdmissionRequest struct {
	ID          string
	Priority    Priority
	SubmittedAt time.Time
	Deadline    time.Time
	Payload     *Opportunity
}

// Expired reports whether the request's deadline has passed as of now.
func (r *AdmissionRequest) Expired(now time.Time) bool {
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

// CompatibilityEntry is one row of the compatibility matrix, keyed by
// (strategy, chain, venue, asset pair, optional lender).
type CompatibilityEntry struct {
	Strategy       string
	Chain          string
	Venue          string
	AssetA         string
	AssetB         string
	Lender         string // empty if not flash-loan-backed
	Admissible     bool
	FailureReasons []string
	EstimatedGas   uint64
	MinProfitBps   uint64
	MaxPosition    *uint256.Int
}

// MinProfitThreshold derives the fractional profit floor from MinProfitBps
// as a float64 (bps/10000, e.g. 50 bps -> 0.005).
func (e CompatibilityEntry) MinProfitThreshold() float64 {
	return float64(e.MinProfitBps) / 10000.0
}

// ResourceStatus is refreshed on a timer by the gate's resource probe.
type ResourceStatus struct {
	CPUPercent     float64
	MemPercent     float64
	AvailableMemMB uint64
	UnderPressure  bool
	Reason         string
	RefreshedAt    time.Time
}
