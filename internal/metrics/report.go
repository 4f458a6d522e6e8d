package metrics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"hedgeproxy/logger"
)

var (
	cpuPercentFn = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

// StartReport begins periodic logging of process and host statistics. The
// same figures are published to CloudWatch when a client is configured.
func StartReport(ctx context.Context, log *logger.Log, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func collectReport(ctx context.Context) logger.Fields {
	cpuPct := 0.0
	if values, err := cpuPercentFn(ctx); err == nil && len(values) > 0 {
		cpuPct = values[0]
	}
	var memUsedMB int64
	if stats, err := memoryStatsFn(ctx); err == nil && stats != nil {
		memUsedMB = int64(stats.Used) / 1024 / 1024
	}
	warns, errs := logger.Counts()

	return logger.Fields{
		"requests":        atomic.LoadInt64(&requestCount),
		"upstream_errors": atomic.LoadInt64(&upstreamErrorCount),
		"warns":           warns,
		"errors":          errs,
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       memUsedMB,
	}
}

func logReport(ctx context.Context, log *logger.Log) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := collectReport(ctx)
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	now := timeNow()
	datum := func(name string, unit cwtypes.StandardUnit, value float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       unit,
			Timestamp:  aws.Time(now),
			Value:      aws.Float64(value),
		}
	}
	data := []cwtypes.MetricDatum{
		datum("CPUPercent", cwtypes.StandardUnitPercent, fields["cpu_percent"].(float64)),
		datum("MemoryMB", cwtypes.StandardUnitMegabytes, float64(fields["memory_mb"].(int64))),
		datum("Requests", cwtypes.StandardUnitCount, float64(fields["requests"].(int64))),
		datum("UpstreamErrors", cwtypes.StandardUnitCount, float64(fields["upstream_errors"].(int64))),
		datum("Warnings", cwtypes.StandardUnitCount, float64(fields["warns"].(int64))),
		datum("Errors", cwtypes.StandardUnitCount, float64(fields["errors"].(int64))),
	}
	publishMetricsFunc(ctx, state, data)
}
