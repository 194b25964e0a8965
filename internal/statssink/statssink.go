// Package statssink persists periodic EngineStats snapshots. save is
// append-only and idempotent on cycle number (spec §6: "save_engine_stats
// — append-only; idempotent on (cycle_no)"), grounded on the teacher's
// append-only execution-tracking shape in infrastructure/execution/service.go,
// generalized from a Supabase-backed table to the two sinks this system
// actually needs: an in-memory ring for the /stats endpoint and a
// newline-delimited JSON file for durable history.
package statssink

import (
	"context"
	"time"

	"github.com/r3e-network/mev-searcher/internal/types"
)

// Snapshot is one point-in-time capture of EngineStats, tagged with the
// cycle it was taken after.
type Snapshot struct {
	CycleNumber uint64
	Timestamp   time.Time
	Stats       types.EngineStats
}

// Sink persists Snapshots. Save must be a no-op (not an error) when
// called again with a CycleNumber already recorded.
type Sink interface {
	Save(ctx context.Context, snap Snapshot) error
	Recent(n int) []Snapshot
}
