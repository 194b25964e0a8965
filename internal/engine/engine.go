// Package engine drives the scan -> rank -> dispatch -> collect -> stats
// cycle at a configured interval, bounding cycle duration and refusing
// to self-overlap (spec §4.1). It is the top-level owner that wires the
// scanner, strategy registry, compatibility matrix, admission gate, and
// stats sink together.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/mev-searcher/internal/chainconn"
	"github.com/r3e-network/mev-searcher/internal/config"
	"github.com/r3e-network/mev-searcher/internal/gate"
	"github.com/r3e-network/mev-searcher/internal/lifecycle"
	"github.com/r3e-network/mev-searcher/internal/matrix"
	"github.com/r3e-network/mev-searcher/internal/statssink"
	"github.com/r3e-network/mev-searcher/internal/strategy"
	"github.com/r3e-network/mev-searcher/internal/timeguard"
	"github.com/r3e-network/mev-searcher/internal/types"
	"github.com/r3e-network/mev-searcher/pkg/logger"
	"github.com/r3e-network/mev-searcher/pkg/metrics"
)

// statsSnapshotEvery is N in spec §4.1 step 5: "every N executions
// (N=10), snapshot stats to the stats sink."
const statsSnapshotEvery = 10

// Engine is the top-level coordinator. It owns no chain-specific logic
// itself; everything chain-shaped goes through connectors and strategies.
type Engine struct {
	*lifecycle.Base

	cfg        *config.Config
	connectors map[string]chainconn.Connector
	registry   *strategy.Registry
	matrix     *matrix.Matrix
	gate       *gate.Gate
	timeGuard  *timeguard.TimeGuard
	sink       statssink.Sink
	log        *logger.Logger

	isRunning atomic.Bool

	statsMu     sync.Mutex
	stats       types.EngineStats
	cycleNumber uint64

	pendingMu sync.Mutex
	pending   map[string]chan types.ExecutionResult

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an Engine over already-constructed collaborators. The gate
// is constructed internally so its Executor can close over the engine's
// own dispatch-to-strategy logic.
func New(cfg *config.Config, connectors map[string]chainconn.Connector, registry *strategy.Registry, m *matrix.Matrix, tg *timeguard.TimeGuard, sink statssink.Sink, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	e := &Engine{
		Base:       lifecycle.NewBase("engine"),
		cfg:        cfg,
		connectors: connectors,
		registry:   registry,
		matrix:     m,
		timeGuard:  tg,
		sink:       sink,
		log:        log,
		pending:    make(map[string]chan types.ExecutionResult),
	}
	e.gate = gate.New(cfg.Gate, e.execute, log)
	return e
}

// Gate exposes the underlying admission gate, e.g. for an HTTP status
// endpoint to report queue depth and in-flight counts.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Start launches the gate, the results collector, and the cycle loop.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.gate.Start(runCtx); err != nil {
		cancel()
		return err
	}

	e.isRunning.Store(true)
	e.MarkStarted()

	e.wg.Add(2)
	go e.collectLoop(runCtx)
	go e.cycleLoop(runCtx)

	e.log.Info("engine started")
	return nil
}

// Stop sets is_running=false, lets in-flight dispatches settle (or time
// out) via the gate's own shutdown, then snapshots final stats (spec
// §4.1 "Shutdown").
func (e *Engine) Stop() {
	e.isRunning.Store(false)
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.gate.Stop()
	e.snapshotStats(context.Background())
	e.MarkStopped()
	e.log.Info("engine stopped")
}

// Stats returns a copy of the current accumulated counters.
func (e *Engine) Stats() types.EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine) cycleLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.cfg.Engine.ScanInterval()
	if interval <= 0 {
		interval = time.Second
	}

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		if !e.isRunning.Load() {
			return
		}

		start := time.Now()
		deadline := start.Add(interval)
		e.runCycle(ctx, deadline)

		overran := time.Since(start) > interval
		if overran {
			e.statsMu.Lock()
			e.stats.CycleOverruns++
			e.statsMu.Unlock()
			next = time.Now()
			continue
		}

		next = next.Add(interval)
		sleep := time.Until(next)
		if sleep < 0 {
			next = time.Now()
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// runCycle executes one scan->rank->dispatch->collect->stats pass. A
// scan failure increments scan_failures and returns without affecting
// the next cycle (spec §4.1 "Failure semantics").
func (e *Engine) runCycle(ctx context.Context, deadline time.Time) {
	cycleCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := time.Now()
	e.cycleNumber++

	candidates, err := e.scan(cycleCtx)
	if err != nil {
		e.statsMu.Lock()
		e.stats.ScanFailures++
		e.statsMu.Unlock()
		e.log.WithError(err).Warn("scan phase failed")
		metrics.RecordCycle("scan_failed", 0, time.Since(start))
		return
	}

	ranked := e.rank(cycleCtx, candidates)
	if len(ranked) > e.cfg.Engine.MaxConcurrentExecutions {
		ranked = ranked[:e.cfg.Engine.MaxConcurrentExecutions]
	}

	results := e.dispatch(cycleCtx, ranked, deadline)
	e.statsMu.Lock()
	executionsBefore := e.stats.Executions
	e.statsMu.Unlock()
	e.updateStats(ctx, results)

	e.statsMu.Lock()
	e.stats.Cycles++
	executions := e.stats.Executions
	e.statsMu.Unlock()

	e.log.LogCycle(ctx, len(candidates), len(ranked), len(results), time.Since(start))
	metrics.RecordCycle("ok", len(candidates), time.Since(start))

	if executions/statsSnapshotEvery > executionsBefore/statsSnapshotEvery {
		e.snapshotStats(ctx)
	}
}

// dispatch submits each ranked opportunity to the gate at priority High
// (Critical if competition-extreme), then awaits the joined results of
// the batch with a deadline equal to the cycle deadline (spec §4.1.4).
func (e *Engine) dispatch(ctx context.Context, opps []*types.Opportunity, deadline time.Time) []types.ExecutionResult {
	if len(opps) == 0 {
		return nil
	}

	results := make([]types.ExecutionResult, 0, len(opps))
	pendingIDs := make(map[string]bool, len(opps))
	batch := make(chan types.ExecutionResult, len(opps))

	e.pendingMu.Lock()
	for _, opp := range opps {
		e.pending[opp.ID] = batch
	}
	e.pendingMu.Unlock()

	defer func() {
		e.pendingMu.Lock()
		for _, opp := range opps {
			if e.pending[opp.ID] == batch {
				delete(e.pending, opp.ID)
			}
		}
		e.pendingMu.Unlock()
	}()

	for _, opp := range opps {
		priority := types.PriorityHigh
		if opp.CompetitionExtreme {
			priority = types.PriorityCritical
		}
		req := &types.AdmissionRequest{
			ID:          opp.ID,
			Priority:    priority,
			SubmittedAt: time.Now(),
			Deadline:    deadline,
			Payload:     opp,
		}
		submission := e.gate.Submit(req)
		if submission.Rejected {
			metrics.RecordGateRejection(submission.Reason)
			results = append(results, types.ExecutionResult{
				OpportunityID: opp.ID,
				Outcome:       types.OutcomeRejected,
				ErrorKind:     types.ErrorKindBackpressure,
			})
			continue
		}
		pendingIDs[opp.ID] = true
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for len(pendingIDs) > 0 {
		select {
		case <-ctx.Done():
			return append(results, timeoutResults(pendingIDs)...)
		case <-timer.C:
			return append(results, timeoutResults(pendingIDs)...)
		case result := <-batch:
			if pendingIDs[result.OpportunityID] {
				results = append(results, result)
				delete(pendingIDs, result.OpportunityID)
			}
		}
	}
	return results
}

func timeoutResults(pendingIDs map[string]bool) []types.ExecutionResult {
	out := make([]types.ExecutionResult, 0, len(pendingIDs))
	for id := range pendingIDs {
		out = append(out, types.ExecutionResult{
			OpportunityID: id,
			Outcome:       types.OutcomeTimedOut,
		})
	}
	return out
}

// collectLoop reads every result the gate publishes and routes it to
// the cycle currently waiting on that opportunity id, if any.
func (e *Engine) collectLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-e.gate.Results():
			if !ok {
				return
			}
			e.pendingMu.Lock()
			ch, found := e.pending[result.OpportunityID]
			e.pendingMu.Unlock()
			if found {
				select {
				case ch <- result:
				default:
				}
			}
		}
	}
}

// execute is the gate's Executor: it looks up the strategy named by
// the opportunity and runs its Simulate or Execute method depending on
// simulation_mode (spec §4.5 "execute may only be invoked when
// simulation_mode == false"). Simulation is always allowed regardless
// of clock safety (spec §4.7 scenario 4); a real, signature-bearing
// Execute is refused with ErrorKindClockUnsafe whenever the time guard
// has blocked signing or the clock is not currently safe (spec §4.7
// Critical/Emergency tiers, §7 kind 5).
func (e *Engine) execute(ctx context.Context, opp *types.Opportunity) types.ExecutionResult {
	strat, ok := e.registry.Get(opp.StrategyKind)
	if !ok {
		return types.ExecutionResult{OpportunityID: opp.ID, Outcome: types.OutcomeFailed, ErrorKind: types.ErrorKindUpstream}
	}

	var result types.ExecutionResult
	var err error
	if e.cfg.SimulationMode {
		result, err = strat.Simulate(ctx, opp)
	} else if e.timeGuard != nil && (e.timeGuard.SigningBlocked() || !e.timeGuard.TimeSafe()) {
		e.log.WithField("opportunity_id", opp.ID).Warn("execute refused: clock unsafe or signing blocked")
		return types.ExecutionResult{OpportunityID: opp.ID, Outcome: types.OutcomeRejected, ErrorKind: types.ErrorKindClockUnsafe}
	} else {
		result, err = strat.Execute(ctx, opp)
	}
	if err != nil {
		e.log.LogDispatch(ctx, opp.ID, false, err)
		if result.Outcome == "" {
			result = types.ExecutionResult{OpportunityID: opp.ID, Outcome: types.OutcomeFailed}
		}
		return result
	}
	e.log.LogDispatch(ctx, opp.ID, result.Success(), nil)
	metrics.RecordDispatch(opp.StrategyKind, string(result.Outcome))
	if result.Success() {
		metrics.RecordProfit(opp.StrategyKind, result.ActualProfit)
	}
	return result
}

// updateStats folds a batch of results into the running counters
// (spec §4.1 step 5).
func (e *Engine) updateStats(ctx context.Context, results []types.ExecutionResult) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	for _, r := range results {
		e.stats.Executions++
		switch r.Outcome {
		case types.OutcomeSuccess:
			e.stats.Successful++
			e.stats.ProfitFixed8 += types.ProfitFixed8(r.ActualProfit)
			e.stats.GasUsedTotal += r.GasUsed
		case types.OutcomeFailed:
			e.stats.Failed++
		case types.OutcomeRejected:
			e.stats.Rejected++
		case types.OutcomeTimedOut:
			e.stats.Timeouts++
		}
	}
}

// SnapshotStats persists the current stats immediately. It is exposed
// so a cron-scheduled task can run it as a time-based backstop to the
// every-N-executions snapshot in runCycle (spec §5 stats-snapshot loop).
func (e *Engine) SnapshotStats(ctx context.Context) error {
	e.snapshotStats(ctx)
	return nil
}

func (e *Engine) snapshotStats(ctx context.Context) {
	e.statsMu.Lock()
	snap := statssink.Snapshot{CycleNumber: e.cycleNumber, Timestamp: time.Now(), Stats: e.stats}
	e.statsMu.Unlock()

	if e.sink == nil {
		return
	}
	if err := e.sink.Save(ctx, snap); err != nil {
		e.log.WithError(err).Warn("failed to persist stats snapshot")
	}
}

func newOpportunityID() string { return uuid.NewString() }
