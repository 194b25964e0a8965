// Package timeguard monitors drift between local wall time and a
// reference clock, and exposes a tiered safety gate the engine consults
// before any signature-bearing dispatch (spec §4.7).
package timeguard

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/r3e-network/mev-searcher/internal/config"
	"github.com/r3e-network/mev-searcher/internal/lifecycle"
	"github.com/r3e-network/mev-searcher/pkg/logger"
	"github.com/r3e-network/mev-searcher/pkg/metrics"
)

// Tier classifies the current drift magnitude.
type Tier int

const (
	TierNormal Tier = iota
	TierWarning
	TierCritical
	TierEmergency
)

func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	case TierEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ReferenceClock resolves the current time according to some external
// source of truth (NTP daemon, peer query, or a stubbed clock in tests).
type ReferenceClock interface {
	Now(ctx context.Context) (time.Time, error)
}

// ReferenceClockFunc adapts a function to ReferenceClock.
type ReferenceClockFunc func(ctx context.Context) (time.Time, error)

func (f ReferenceClockFunc) Now(ctx context.Context) (time.Time, error) { return f(ctx) }

const ringSize = 100

// Stats reports descriptive statistics over the drift sample ring.
// Insufficient is true when fewer than 3 samples have landed, too few
// for a meaningful standard deviation.
type Stats struct {
	Mean          float64
	StdDev        float64
	Median        float64
	Count         int
	Insufficient  bool
}

// TimeGuard periodically samples clock drift and derives a safety tier.
type TimeGuard struct {
	*lifecycle.Base

	cfg   config.TimeGuardConfig
	clock ReferenceClock
	log   *logger.Logger

	mu                 sync.Mutex
	ring               []float64
	ringPos            int
	ringFilled         bool
	consecutiveWarning int

	tier           atomic.Int32
	timeSafe       atomic.Bool
	signingBlocked atomic.Bool

	onResync func(ctx context.Context) error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a TimeGuard. onResync, if non-nil, is invoked once on
// entering the Critical tier when cfg.AutoRestartSync is set.
func New(cfg config.TimeGuardConfig, clock ReferenceClock, onResync func(ctx context.Context) error, log *logger.Logger) *TimeGuard {
	if log == nil {
		log = logger.NewDefault("timeguard")
	}
	g := &TimeGuard{
		Base:     lifecycle.NewBase("timeguard"),
		cfg:      cfg,
		clock:    clock,
		log:      log,
		ring:     make([]float64, ringSize),
		onResync: onResync,
	}
	g.timeSafe.Store(true)
	return g
}

// Start launches the periodic drift probe.
func (g *TimeGuard) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.MarkStarted()

	g.wg.Add(1)
	go g.probeLoop(runCtx)
	g.log.Info("time guard started")
	return nil
}

// Stop halts the probe loop.
func (g *TimeGuard) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	g.MarkStopped()
	g.log.Info("time guard stopped")
}

func (g *TimeGuard) probeLoop(ctx context.Context) {
	defer g.wg.Done()
	interval := g.cfg.CheckInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.probeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.probeOnce(ctx)
		}
	}
}

func (g *TimeGuard) probeOnce(ctx context.Context) {
	reference, err := g.clock.Now(ctx)
	if err != nil {
		g.log.WithError(err).Warn("reference clock probe failed")
		return
	}
	driftMS := float64(time.Since(reference)) / float64(time.Millisecond)
	g.record(ctx, driftMS)
}

// record stores a drift sample and recomputes the safety tier. Exported
// as Record for tests and for alternate probe sources to feed samples
// directly without going through a ReferenceClock.
func (g *TimeGuard) record(ctx context.Context, driftMS float64) {
	g.mu.Lock()
	g.ring[g.ringPos] = driftMS
	g.ringPos = (g.ringPos + 1) % ringSize
	if g.ringPos == 0 {
		g.ringFilled = true
	}
	g.mu.Unlock()

	abs := math.Abs(driftMS)
	var tier Tier
	switch {
	case abs >= float64(g.cfg.EmergencyThresholdMS):
		tier = TierEmergency
		g.enterTier(tier, abs)
	case abs >= float64(g.cfg.CriticalThresholdMS):
		tier = TierCritical
		entering := g.Tier() != TierCritical
		g.enterTier(tier, abs)
		if entering {
			g.resync(ctx)
		}
	case abs >= float64(g.cfg.WarningThresholdMS):
		tier = TierWarning
		g.enterWarning(abs)
	default:
		tier = TierNormal
		g.enterTier(tier, abs)
	}
	metrics.RecordClockDrift(time.Duration(driftMS*float64(time.Millisecond)), int(tier))
}

// Record feeds an out-of-band drift sample (milliseconds) through the
// same tiering logic the periodic probe uses.
func (g *TimeGuard) Record(driftMS float64) {
	g.record(context.Background(), driftMS)
}

func (g *TimeGuard) enterWarning(abs float64) {
	g.mu.Lock()
	g.consecutiveWarning++
	count := g.consecutiveWarning
	g.mu.Unlock()

	g.tier.Store(int32(TierWarning))
	g.timeSafe.Store(true)
	g.signingBlocked.Store(false)

	if count >= 3 {
		g.log.WithField("drift_ms", abs).Warn("clock drift in warning range for 3+ consecutive probes")
	}
}

func (g *TimeGuard) enterTier(tier Tier, abs float64) {
	g.mu.Lock()
	if tier != TierWarning {
		g.consecutiveWarning = 0
	}
	g.mu.Unlock()

	g.tier.Store(int32(tier))

	switch tier {
	case TierNormal:
		g.timeSafe.Store(true)
		g.signingBlocked.Store(false)
	case TierCritical:
		g.timeSafe.Store(true)
		g.signingBlocked.Store(true)
		g.log.WithField("drift_ms", abs).Error("clock drift critical, blocking signature-bearing dispatches")
	case TierEmergency:
		g.timeSafe.Store(false)
		g.signingBlocked.Store(true)
		g.log.WithField("drift_ms", abs).Error("clock drift emergency, time_safe=false")
	}
}

func (g *TimeGuard) resync(ctx context.Context) {
	if !g.cfg.AutoRestartSync || g.onResync == nil {
		return
	}
	if err := g.onResync(ctx); err != nil {
		g.log.WithError(err).Warn("clock resync attempt failed")
	}
}

// Tier returns the current safety tier.
func (g *TimeGuard) Tier() Tier { return Tier(g.tier.Load()) }

// TimeSafe reports whether the engine may execute (simulate is always
// allowed regardless of this flag).
func (g *TimeGuard) TimeSafe() bool { return g.timeSafe.Load() }

// SigningBlocked reports whether new signature-bearing dispatches must
// be refused (Critical and Emergency tiers).
func (g *TimeGuard) SigningBlocked() bool { return g.signingBlocked.Load() }

// Stats computes mean/stddev/median over the currently filled samples.
func (g *TimeGuard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.ringPos
	if g.ringFilled {
		n = ringSize
	}
	if n == 0 {
		return Stats{}
	}
	samples := make([]float64, n)
	copy(samples, g.ring[:n])

	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(n)

	var variance float64
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(n)

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	return Stats{Mean: mean, StdDev: math.Sqrt(variance), Median: median, Count: n, Insufficient: n < 3}
}
