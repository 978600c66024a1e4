package agent

import (
	"context"
	"log/slog"
	"os"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Collector produces the metrics snapshot sent with each heartbeat.
type Collector interface {
	Collect(ctx context.Context) dto.AgentMetrics
}

// SystemCollector reads host metrics. A metric that cannot be read is left at
// its zero value.
type SystemCollector struct {
	watch WatchConfig
}

func NewSystemCollector(watch WatchConfig) *SystemCollector {
	return &SystemCollector{watch: watch}
}

func (c *SystemCollector) Collect(ctx context.Context) dto.AgentMetrics {
	var m dto.AgentMetrics

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = round1(pct[0])
	} else if err != nil {
		slog.Debug("CPU metric unavailable", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemPercent = round1(vm.UsedPercent)
	} else {
		slog.Debug("Memory metric unavailable", "error", err)
	}

	if du, err := disk.UsageWithContext(ctx, c.watch.DiskPath); err == nil {
		m.DiskPercent = round1(du.UsedPercent)
	} else {
		slog.Debug("Disk metric unavailable", "path", c.watch.DiskPath, "error", err)
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		m.Hostname = info.Hostname
	} else if name, err := os.Hostname(); err == nil {
		m.Hostname = name
	}

	if len(c.watch.Processes) > 0 {
		m.Processes = c.processes(ctx)
	}
	return m
}

func (c *SystemCollector) processes(ctx context.Context) []dto.ProcessStatus {
	running := make(map[string]int32)
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		slog.Debug("Process list unavailable", "error", err)
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if _, seen := running[name]; !seen {
			running[name] = p.Pid
		}
	}

	statuses := make([]dto.ProcessStatus, 0, len(c.watch.Processes))
	for _, w := range c.watch.Processes {
		pid, ok := running[w.Name]
		statuses = append(statuses, dto.ProcessStatus{Name: w.Name, Running: ok, PID: pid})
	}
	return statuses
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
