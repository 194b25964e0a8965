// Package lifecycle provides a thread-safe readiness/state toggle shared by
// every long-lived subsystem (engine, RPC pool, gate, time guard, disk guard).
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the lifecycle state of a subsystem.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateNotReady
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateNotReady:
		return "not-ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Base gives a subsystem a readiness toggle, start/stop timestamps, and a
// last-error slot without hand-rolled atomics in every package. Embed it.
type Base struct {
	state     atomic.Int32
	name      atomic.Value // string
	startedAt atomic.Value // time.Time
	stoppedAt atomic.Value // time.Time

	mu        sync.RWMutex
	lastError error
}

// NewBase creates a Base with the given subsystem name.
func NewBase(name string) *Base {
	b := &Base{}
	b.name.Store(strings.TrimSpace(name))
	return b
}

func (b *Base) Name() string {
	if v := b.name.Load(); v != nil {
		return v.(string)
	}
	return ""
}

func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) SetState(s State) { b.state.Store(int32(s)) }

// CompareAndSwapState atomically transitions state if current matches expected.
func (b *Base) CompareAndSwapState(expected, next State) bool {
	return b.state.CompareAndSwap(int32(expected), int32(next))
}

// MarkReady flips the ready/not-ready bit without touching timestamps.
func (b *Base) MarkReady(ready bool) {
	if ready {
		b.state.Store(int32(StateReady))
	} else {
		b.state.Store(int32(StateNotReady))
	}
}

// MarkStarted records the start time and transitions to ready.
func (b *Base) MarkStarted() {
	b.startedAt.Store(time.Now())
	b.state.Store(int32(StateReady))
}

// MarkStopped records the stop time and transitions to stopped.
func (b *Base) MarkStopped() {
	b.stoppedAt.Store(time.Now())
	b.state.Store(int32(StateStopped))
}

// MarkFailed records the error and transitions to failed.
func (b *Base) MarkFailed(err error) {
	b.mu.Lock()
	b.lastError = err
	b.mu.Unlock()
	b.state.Store(int32(StateFailed))
}

func (b *Base) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

func (b *Base) StartedAt() time.Time {
	if v := b.startedAt.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

func (b *Base) Uptime() time.Duration {
	started := b.StartedAt()
	if started.IsZero() {
		return 0
	}
	if v := b.stoppedAt.Load(); v != nil {
		if stopped := v.(time.Time); !stopped.IsZero() {
			return stopped.Sub(started)
		}
	}
	return time.Since(started)
}

func (b *Base) IsReady() bool { return b.State() == StateReady }

// Ready implements a simple health-check contract: nil when ready, a
// descriptive error otherwise.
func (b *Base) Ready(ctx context.Context) error {
	_ = ctx
	if b.State() == StateReady {
		return nil
	}
	name := b.Name()
	if err := b.LastError(); err != nil {
		if name != "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return err
	}
	if name != "" {
		return fmt.Errorf("%s: %s", name, b.State())
	}
	return fmt.Errorf("subsystem %s", b.State())
}
