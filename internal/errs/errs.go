// Package errs provides the engine's structured error taxonomy.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error kind per the error handling design (spec §7).
type Code string

const (
	// Transient upstream (kind 1): retried against the next-best endpoint.
	ErrCodeUpstreamTimeout   Code = "UPSTREAM_1001"
	ErrCodeUpstreamUnhealthy Code = "UPSTREAM_1002"

	// Opportunity invalid (kind 2): logged at debug, recorded Skipped, no retry.
	ErrCodeOpportunityExpired    Code = "OPP_2001"
	ErrCodeSlippage              Code = "OPP_2002"
	ErrCodeInsufficientLiquidity Code = "OPP_2003"

	// Insufficient profit (kind 3): recorded Failed{Unprofitable}, no retry.
	ErrCodeUnprofitable Code = "PROFIT_3001"

	// Resource exhaustion (kind 4): returned to submitter as Rejected.
	ErrCodeGateFull     Code = "RES_4001"
	ErrCodeBackpressure Code = "RES_4002"
	ErrCodeQueueTimeout Code = "RES_4003"

	// Clock-unsafe (kind 5): dispatcher refuses execution.
	ErrCodeClockUnsafe Code = "CLOCK_5001"

	// Fatal init (kind 6): process exits non-zero before entering the loop.
	ErrCodeConfigInvalid   Code = "INIT_6001"
	ErrCodeMissingEndpoint Code = "INIT_6002"
)

// SearchError is the engine's structured error type: a code, a human
// message, optional structured details, and an optional wrapped cause.
type SearchError struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail and returns the error for chaining.
func (e *SearchError) WithDetails(key string, value any) *SearchError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a SearchError with no wrapped cause.
func New(code Code, message string) *SearchError {
	return &SearchError{Code: code, Message: message}
}

// Wrap creates a SearchError wrapping an existing error.
func Wrap(code Code, message string, err error) *SearchError {
	return &SearchError{Code: code, Message: message, Err: err}
}

// IsSearchError reports whether err is, or wraps, a *SearchError.
func IsSearchError(err error) bool {
	var se *SearchError
	return errors.As(err, &se)
}

// GetSearchError extracts the *SearchError from err's chain, if present.
func GetSearchError(err error) *SearchError {
	var se *SearchError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// IsCode reports whether err's chain carries a SearchError with the given code.
func IsCode(err error, code Code) bool {
	se := GetSearchError(err)
	return se != nil && se.Code == code
}

// Kind 1: transient upstream.

func UpstreamTimeout(endpoint string, err error) *SearchError {
	return Wrap(ErrCodeUpstreamTimeout, "upstream call timed out", err).WithDetails("endpoint", endpoint)
}

func UpstreamUnhealthy(endpoint string) *SearchError {
	return New(ErrCodeUpstreamUnhealthy, "upstream endpoint is unhealthy").WithDetails("endpoint", endpoint)
}

// Kind 2: opportunity invalid.

func OpportunityExpired(opportunityID string) *SearchError {
	return New(ErrCodeOpportunityExpired, "opportunity expired before dispatch").WithDetails("opportunity_id", opportunityID)
}

func Slippage(opportunityID string, expected, actual float64) *SearchError {
	return New(ErrCodeSlippage, "slippage exceeded tolerance").
		WithDetails("opportunity_id", opportunityID).
		WithDetails("expected", expected).
		WithDetails("actual", actual)
}

func InsufficientLiquidity(opportunityID string) *SearchError {
	return New(ErrCodeInsufficientLiquidity, "insufficient liquidity").WithDetails("opportunity_id", opportunityID)
}

// Kind 3: insufficient profit.

func Unprofitable(opportunityID string, adjustedProfit float64) *SearchError {
	return New(ErrCodeUnprofitable, "risk-adjusted profit is not positive").
		WithDetails("opportunity_id", opportunityID).
		WithDetails("risk_adjusted_profit", adjustedProfit)
}

// Kind 4: resource exhaustion.

func GateFull(queueSize int) *SearchError {
	return New(ErrCodeGateFull, "admission queue is at capacity").WithDetails("queue_size", queueSize)
}

func Backpressure(cpuPercent float64) *SearchError {
	return New(ErrCodeBackpressure, "host under backpressure").WithDetails("cpu_percent", cpuPercent)
}

func QueueTimeout(requestID string) *SearchError {
	return New(ErrCodeQueueTimeout, "request exceeded its deadline while queued").WithDetails("request_id", requestID)
}

// Kind 5: clock-unsafe.

func ClockUnsafe(driftMS float64) *SearchError {
	return New(ErrCodeClockUnsafe, "host clock drift exceeds the emergency threshold").WithDetails("drift_ms", driftMS)
}

// Kind 6: fatal init.

func ConfigInvalid(field, reason string) *SearchError {
	return New(ErrCodeConfigInvalid, "invalid configuration").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingEndpoint() *SearchError {
	return New(ErrCodeMissingEndpoint, "no rpc endpoints configured")
}
