// Package gate implements the admission/congestion gate: a bounded
// priority queue guarded by a counting semaphore, a host resource probe,
// and a timeout monitor, so the host is never over-committed regardless
// of how many opportunities the scanner surfaces in one cycle (spec
// §4.4 — "the single hardest component").
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/mev-searcher/internal/config"
	"github.com/r3e-network/mev-searcher/internal/lifecycle"
	"github.com/r3e-network/mev-searcher/internal/types"
	"github.com/r3e-network/mev-searcher/pkg/logger"
	"github.com/r3e-network/mev-searcher/pkg/metrics"
)

// Executor runs one Opportunity to completion (dry-run or real,
// depending on the strategy and simulation mode) and returns its result.
type Executor func(ctx context.Context, opp *types.Opportunity) types.ExecutionResult

// SubmitResult is the immediate, non-blocking response to Submit.
type SubmitResult struct {
	Accepted      bool
	Position      int
	EstimatedWait time.Duration
	Rejected      bool
	Reason        string
}

type runningEntry struct {
	id       string
	deadline time.Time
	timedOut bool
}

// Gate is the admission/congestion control subsystem. It owns the queue,
// the simulation semaphore, the resource probe, and the timeout monitor.
type Gate struct {
	*lifecycle.Base

	cfg      config.GateConfig
	executor Executor
	log      *logger.Logger

	mu    sync.Mutex
	queue *admissionQueue

	sem chan struct{}

	runningMu sync.Mutex
	running   map[string]*runningEntry

	resourceMu sync.RWMutex
	resource   types.ResourceStatus

	results chan types.ExecutionResult

	avgServiceTime time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Gate. executor is invoked by the dispatcher for every
// admitted request; results are published on Results().
func New(cfg config.GateConfig, executor Executor, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.NewDefault("gate")
	}
	if cfg.MaxConcurrentSims <= 0 {
		cfg.MaxConcurrentSims = 1
	}
	return &Gate{
		Base:           lifecycle.NewBase("gate"),
		cfg:            cfg,
		executor:       executor,
		log:            log,
		queue:          newAdmissionQueue(),
		sem:            make(chan struct{}, cfg.MaxConcurrentSims),
		running:        make(map[string]*runningEntry),
		results:        make(chan types.ExecutionResult, cfg.MaxConcurrentSims),
		avgServiceTime: cfg.SimulationTimeout() / 4,
	}
}

// Results returns the channel execution results are published on, in
// completion order (spec §5: collected in completion order, aggregated
// commutatively).
func (g *Gate) Results() <-chan types.ExecutionResult { return g.results }

// Start launches the dispatcher, resource probe, and timeout monitor.
func (g *Gate) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.MarkStarted()

	g.wg.Add(3)
	go g.dispatchLoop(runCtx)
	go g.resourceProbeLoop(runCtx)
	go g.timeoutMonitorLoop(runCtx)

	g.log.Info("gate started")
	return nil
}

// Stop cancels all background loops and waits for them to exit.
func (g *Gate) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	close(g.results)
	g.MarkStopped()
	g.log.Info("gate stopped")
}

// Submit enqueues req, returning immediately. It never blocks on the
// semaphore; admission happens asynchronously in the dispatcher.
// Rejection has exactly two reasons (spec §4.4: queue at capacity, or
// backpressure active with a non-critical submission / CPU saturated).
func (g *Gate) Submit(req *types.AdmissionRequest) SubmitResult {
	status := g.resourceSnapshot()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.queue.Len() >= g.cfg.MaxQueueSize {
		return SubmitResult{Rejected: true, Reason: "queue at capacity"}
	}
	if status.UnderPressure && status.CPUPercent > 95 {
		return SubmitResult{Rejected: true, Reason: "cpu saturated"}
	}
	if status.UnderPressure && req.Priority != types.PriorityCritical {
		return SubmitResult{Rejected: true, Reason: "host under pressure, non-critical submission refused"}
	}

	g.queue.Push(req)
	position, wait := g.queue.Position(req, g.avgServiceTime, g.freeSlots())
	metrics.GateQueueDepth.Set(float64(g.queue.Len()))
	return SubmitResult{Accepted: true, Position: position, EstimatedWait: wait}
}

func (g *Gate) freeSlots() int {
	return g.cfg.MaxConcurrentSims - len(g.sem)
}

func (g *Gate) resourceSnapshot() types.ResourceStatus {
	g.resourceMu.RLock()
	defer g.resourceMu.RUnlock()
	return g.resource
}

// dispatchLoop is the single task that owns the queue's exclusive lock
// for pop operations (spec §5: "the gate queue is owned by one task").
func (g *Gate) dispatchLoop(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.dispatchOnce(ctx)
		}
	}
}

func (g *Gate) dispatchOnce(ctx context.Context) {
	g.mu.Lock()
	req, ok := g.queue.Pop()
	if ok {
		metrics.GateQueueDepth.Set(float64(g.queue.Len()))
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	now := time.Now()
	if req.Expired(now) {
		metrics.RecordGateRejection("timed_out")
		g.log.WithField("opportunity_id", req.ID).Warn("admission request expired before dispatch")
		return
	}

	select {
	case g.sem <- struct{}{}:
	default:
		// No free permit: preserve priority order by re-pushing to the
		// front of its priority bucket rather than blocking the dispatcher.
		g.mu.Lock()
		g.queue.PushFront(req)
		metrics.GateQueueDepth.Set(float64(g.queue.Len()))
		g.mu.Unlock()
		return
	}

	g.runningMu.Lock()
	g.running[req.ID] = &runningEntry{id: req.ID, deadline: req.Deadline}
	g.runningMu.Unlock()
	metrics.GateInFlight.Set(float64(len(g.sem)))

	g.wg.Add(1)
	go g.run(ctx, req)
}

func (g *Gate) run(ctx context.Context, req *types.AdmissionRequest) {
	defer g.wg.Done()
	start := time.Now()
	defer func() {
		<-g.sem
		g.runningMu.Lock()
		delete(g.running, req.ID)
		g.runningMu.Unlock()
		metrics.GateInFlight.Set(float64(len(g.sem)))
	}()

	runCtx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	result := g.executor(runCtx, req.Payload)
	result.WallTime = time.Since(start)

	select {
	case g.results <- result:
	case <-ctx.Done():
	}
}

// timeoutMonitorLoop demotes running entries whose deadline has passed.
// It never cancels the underlying simulation; the caller inside run()
// is responsible for observing ctx.Done() cooperatively (spec §5).
func (g *Gate) timeoutMonitorLoop(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.scanRunning()
		}
	}
}

func (g *Gate) scanRunning() {
	now := time.Now()
	g.runningMu.Lock()
	defer g.runningMu.Unlock()
	for id, entry := range g.running {
		if !entry.timedOut && !entry.deadline.IsZero() && now.After(entry.deadline) {
			entry.timedOut = true
			metrics.RecordGateRejection("timed_out")
			g.log.WithField("opportunity_id", id).Warn("running simulation exceeded deadline")
		}
	}
}

func (g *Gate) resourceProbeLoop(ctx context.Context) {
	defer g.wg.Done()
	interval := g.cfg.ResourceCheckInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.refreshResources()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refreshResources()
		}
	}
}

func (g *Gate) refreshResources() {
	status := probeResources(g.cfg.CPUThresholdPercent, g.cfg.MemoryThresholdPercent)
	g.resourceMu.Lock()
	g.resource = status
	g.resourceMu.Unlock()
	if status.UnderPressure {
		g.log.WithField("reason", status.Reason).Warn(fmt.Sprintf("host under pressure: cpu=%.1f%% mem=%.1f%%", status.CPUPercent, status.MemPercent))
	}
}

// QueueLen reports the current queue depth.
func (g *Gate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queue.Len()
}

// InFlight reports the number of permits currently held.
func (g *Gate) InFlight() int { return len(g.sem) }

// ResourceStatus returns the most recently probed host resource status.
func (g *Gate) ResourceStatus() types.ResourceStatus { return g.resourceSnapshot() }
