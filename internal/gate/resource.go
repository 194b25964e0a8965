package gate

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/r3e-network/mev-searcher/internal/types"
)

// probeResources samples instantaneous host CPU/memory usage. cpu.Percent
// with a zero interval returns the delta since the previous call rather
// than blocking, so this is safe to call on every probe tick.
func probeResources(cpuThreshold, memThreshold float64) types.ResourceStatus {
	status := types.ResourceStatus{}

	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemPercent = vm.UsedPercent
		status.AvailableMemMB = vm.Available / (1024 * 1024)
	}

	switch {
	case status.CPUPercent > cpuThreshold:
		status.UnderPressure = true
		status.Reason = "cpu"
	case status.MemPercent > memThreshold:
		status.UnderPressure = true
		status.Reason = "memory"
	}

	status.RefreshedAt = time.Now()
	return status
}
