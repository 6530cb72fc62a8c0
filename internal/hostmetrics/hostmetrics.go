// Package hostmetrics is an optional producer that samples host CPU
// and memory usage and republishes it as a SystemInfo event. It is not
// started by the control loop itself; a caller that wants the bare
// protocol core without host sampling simply never constructs one.
package hostmetrics

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	psutilcpu "github.com/shirou/gopsutil/v3/cpu"
	psutilmem "github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"drivestation/internal/dsstate"
)

const sampleInterval = time.Second

// SystemInfoPublisher is the subset of controlloop.Loop this producer
// needs.
type SystemInfoPublisher interface {
	PublishSystemInfo(dsstate.SystemInfo)
}

// Producer samples host resource usage on its own ticker and publishes
// it to a SystemInfoPublisher.
type Producer struct {
	logger *zap.Logger
	clock  clock.Clock
	target SystemInfoPublisher

	// sample is overridden in tests to avoid a real gopsutil call.
	sample func() (dsstate.SystemInfo, error)
}

// New constructs a Producer. logger/clk may be nil for defaults.
func New(logger *zap.Logger, clk clock.Clock, target SystemInfoPublisher) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Producer{
		logger: logger.Named("hostmetrics"),
		clock:  clk,
		target: target,
		sample: sampleHost,
	}
}

// Run samples and publishes once per second until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	ticker := p.clock.Ticker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := p.sample()
			if err != nil {
				p.logger.Debug("host metrics sample failed", zap.Error(err))
				continue
			}
			p.target.PublishSystemInfo(info)
		}
	}
}

func sampleHost() (dsstate.SystemInfo, error) {
	cpuPercent, err := psutilcpu.Percent(0, false)
	if err != nil {
		return dsstate.SystemInfo{}, err
	}
	memInfo, err := psutilmem.VirtualMemory()
	if err != nil {
		return dsstate.SystemInfo{}, err
	}
	var cpu float64
	if len(cpuPercent) > 0 {
		cpu = cpuPercent[0]
	}
	return dsstate.SystemInfo{CPUPercent: cpu, RAMPercent: memInfo.UsedPercent}, nil
}
