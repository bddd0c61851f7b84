package health

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSampler reports the local process's host resource pressure as a score
// in [0,1], 1.0 meaning idle and 0.0 meaning saturated. It is folded into the
// global score as a pseudo-dependency named "host" alongside the breaker
// states, since sustained CPU/memory pressure degrades governance throughput
// just as surely as a tripped breaker does.
type HostSampler interface {
	Sample(ctx context.Context) (float64, error)
}

// GopsutilSampler samples CPU and memory utilization via gopsutil.
type GopsutilSampler struct {
	// HighWatermark is the utilization fraction above which the host
	// component score floors at 0. Defaults to 0.90.
	HighWatermark float64
}

// NewGopsutilSampler constructs a GopsutilSampler with the default watermark.
func NewGopsutilSampler() *GopsutilSampler {
	return &GopsutilSampler{HighWatermark: 0.90}
}

// Sample returns 1 - worst/watermark, where worst is the higher of current
// CPU and memory utilization; it is 0 at or above the high watermark.
func (g *GopsutilSampler) Sample(ctx context.Context) (float64, error) {
	watermark := g.HighWatermark
	if watermark <= 0 {
		watermark = 0.90
	}

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0] / 100.0
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	memPct := vm.UsedPercent / 100.0

	worst := cpuPct
	if memPct > worst {
		worst = memPct
	}
	if worst >= watermark {
		return 0, nil
	}
	return clampUnit(1 - worst/watermark), nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
