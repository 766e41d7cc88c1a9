// Package sysinfo collects host-level and per-process utilization
// figures for the sampler.
package sysinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// HostStats is one point-in-time reading of host utilization.
type HostStats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskPercent      float64
	NetworkBytesSent uint64
	NetworkBytesRecv uint64
}

// ProcessStats is one point-in-time reading of the monitored process.
type ProcessStats struct {
	CPUPercent    float64
	MemoryPercent float64

	// Connections is the open connection count, or -1 when the OS
	// denied access to the process's connection table.
	Connections int
}

// CollectHost reads the host-wide figures. Each gauge is best effort:
// a failed reading leaves its field zero rather than failing the whole
// sample.
func CollectHost(ctx context.Context) (HostStats, error) {
	var stats HostStats
	var firstErr error

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	} else if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("cpu: %w", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
	} else if firstErr == nil {
		firstErr = fmt.Errorf("memory: %w", err)
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		stats.DiskPercent = du.UsedPercent
	} else if firstErr == nil {
		firstErr = fmt.Errorf("disk: %w", err)
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		stats.NetworkBytesSent = counters[0].BytesSent
		stats.NetworkBytesRecv = counters[0].BytesRecv
	} else if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("network: %w", err)
	}

	return stats, firstErr
}

// FindProcess locates the first process whose name contains name
// (case-insensitive) and reads its utilization. It returns nil when no
// such process is running.
func FindProcess(ctx context.Context, name string) (*ProcessStats, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	needle := strings.ToLower(name)
	for _, p := range procs {
		pname, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes can exit between listing and inspection.
			continue
		}
		if !strings.Contains(strings.ToLower(pname), needle) {
			continue
		}

		var stats ProcessStats
		if pct, err := p.CPUPercentWithContext(ctx); err == nil {
			stats.CPUPercent = pct
		}
		if pct, err := p.MemoryPercentWithContext(ctx); err == nil {
			stats.MemoryPercent = float64(pct)
		}
		if conns, err := p.ConnectionsWithContext(ctx); err == nil {
			stats.Connections = len(conns)
		} else {
			stats.Connections = -1
		}
		return &stats, nil
	}
	return nil, nil
}
