// Package metrics collects host resource utilization for the supervisor's
// heartbeat. The teacher's own agent/internal/metrics stub named its
// intended library directly in a TODO ("implement with
// github.com/shirou/gopsutil/v3 when adding monitoring") without ever
// wiring it; this package is that wiring, completed for the run-scoped
// heartbeat this module actually needs, on the current v4 major version.
package metrics

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time host resource reading, percentages 0-100.
type Snapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Collect samples CPU, memory, and disk utilization for the partition
// containing dataDir. A failed sub-probe leaves its field at zero rather
// than failing the whole snapshot — a heartbeat with partial data still
// advances the client's last_seen_at, which matters more than one metric.
func Collect(ctx context.Context, dataDir string) Snapshot {
	var snap Snapshot

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, dataDir); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	return snap
}
