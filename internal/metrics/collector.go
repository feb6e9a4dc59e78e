// Package metrics logs periodic system resource snapshots during long
// ingestion runs, which is how slow regions get diagnosed in the field.
package metrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Collector periodically collects and logs system metrics.
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	lastDisk     map[string]disk.IOCountersStat
	lastDiskTime time.Time
}

// NewCollector creates a collector logging at the given interval.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// Start runs collection until the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample initializes the disk-rate baseline.
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	fields := make([]zap.Field, 0, 6)

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		fields = append(fields, zap.Float64("sys_cpu", pct[0]))
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			fields = append(fields, zap.Float64("proc_cpu", pct))
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		fields = append(fields,
			zap.Float64("mem_pct", vmem.UsedPercent),
			zap.Uint64("mem_used_mb", vmem.Used/(1024*1024)))
	}

	readMBps, writeMBps := c.diskRates()
	fields = append(fields,
		zap.Float64("disk_read_mbps", readMBps),
		zap.Float64("disk_write_mbps", writeMBps))

	c.logger.Info("System metrics", fields...)
}

// diskRates computes aggregate read/write throughput since the last sample.
func (c *Collector) diskRates() (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}

	now := time.Now()
	if c.lastDisk == nil {
		c.lastDisk = counters
		c.lastDiskTime = now
		return 0, 0
	}

	elapsed := now.Sub(c.lastDiskTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var readDelta, writeDelta uint64
	for name, cur := range counters {
		if last, ok := c.lastDisk[name]; ok {
			if cur.ReadBytes >= last.ReadBytes {
				readDelta += cur.ReadBytes - last.ReadBytes
			}
			if cur.WriteBytes >= last.WriteBytes {
				writeDelta += cur.WriteBytes - last.WriteBytes
			}
		}
	}

	c.lastDisk = counters
	c.lastDiskTime = now

	const mb = 1024 * 1024
	return float64(readDelta) / elapsed / mb, float64(writeDelta) / elapsed / mb
}
