package collector

import (
	"context"
	"fmt"
	"math"
	"strings"

	goprocess "github.com/shirou/gopsutil/v4/process"

	"sentinel/internal/match"
)

const bytesPerMB = 1024 * 1024

// ProcessCollector samples running processes with CPU and resident memory usage.
// Params: exclude filter for process names; pid lister and per-pid sampler are swappable in tests.
// Returns: process collector instance.
type ProcessCollector struct {
	exclude match.NameFilter
	pids    func(context.Context) ([]int32, error)
	sample  func(context.Context, int32) (Record, error)
}

// NewProcessCollector creates a process collector backed by gopsutil.
// Params: excludeNames globs of process names to skip.
// Returns: configured process collector.
func NewProcessCollector(excludeNames []string) *ProcessCollector {
	return &ProcessCollector{
		exclude: match.NewNameFilter(excludeNames),
		pids:    goprocess.PidsWithContext,
		sample:  sampleProcess,
	}
}

// Name returns the collector identity.
// Params: none.
// Returns: collector name string.
func (c *ProcessCollector) Name() string {
	return "ProcessCollector"
}

// Collect reads one record per readable process.
// Params: ctx for cancellation.
// Returns: process records, or ErrSourceUnavailable when the process table cannot be read.
func (c *ProcessCollector) Collect(ctx context.Context) ([]Record, error) {
	pids, err := c.pids(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read process list: %w", ErrSourceUnavailable, err)
	}

	records := make([]Record, 0, len(pids))
	skipped := 0
	for _, pid := range pids {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, ctx.Err())
		}

		record, sampleErr := c.sample(ctx, pid)
		if sampleErr != nil {
			// Process exited or needs privileges we do not have.
			skipped++
			continue
		}
		if name, _ := record["name"].(string); !c.exclude.Empty() && c.exclude.Match(name) {
			continue
		}
		records = append(records, record)
	}

	if skipped > 0 && skipped == len(pids) {
		return nil, fmt.Errorf("%w: all %d process reads failed", ErrSourceUnavailable, skipped)
	}
	return records, nil
}

// sampleProcess reads one process snapshot.
// Params: ctx for cancellation; pid process id.
// Returns: record or error when a mandatory field is unreadable.
func sampleProcess(ctx context.Context, pid int32) (Record, error) {
	proc, err := goprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}

	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return nil, err
	}
	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, err
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, err
	}

	record := Record{
		"pid":         pid,
		"name":        name,
		"cpu_percent": roundTo(cpuPercent, 2),
		"memory_mb":   roundTo(float64(memInfo.RSS)/bytesPerMB, 2),
		"status":      "unknown",
	}
	if status, statusErr := proc.StatusWithContext(ctx); statusErr == nil && len(status) > 0 {
		record["status"] = strings.Join(status, ",")
	}
	if username, userErr := proc.UsernameWithContext(ctx); userErr == nil {
		record["username"] = username
	}
	if created, createdErr := proc.CreateTimeWithContext(ctx); createdErr == nil {
		record["create_time"] = created
	}
	return record, nil
}

func roundTo(value float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(value*scale) / scale
}
