// Package benchmark measures command latency through the engine under
// concurrent clients, as when several pages share one websocket server.
package benchmark

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"time"
)

// Config defines the parameters for a benchmark run.
type Config struct {
	// Clients is the number of concurrent clients to simulate
	Clients int

	// Items is the number of tasks created before measuring
	Items int

	// QueriesPerClient is how many commands each client sends
	QueriesPerClient int

	// BlockedPct is the fraction of tasks blocked by another (0.0-1.0)
	BlockedPct float64
}

// DefaultConfig returns a small run that finishes in seconds.
func DefaultConfig() Config {
	return Config{
		Clients:          8,
		Items:            200,
		QueriesPerClient: 20,
		BlockedPct:       0.3,
	}
}

// Validate checks the ranges of c.
func (c Config) Validate() error {
	switch {
	case c.Clients <= 0:
		return fmt.Errorf("clients must be positive")
	case c.Items <= 0:
		return fmt.Errorf("items must be positive")
	case c.QueriesPerClient <= 0:
		return fmt.Errorf("queries must be positive")
	case c.BlockedPct < 0 || c.BlockedPct > 1:
		return fmt.Errorf("blocked must be between 0.0 and 1.0")
	}
	return nil
}

// Result captures all metrics from a benchmark run.
type Result struct {
	Config Config

	Latency    LatencyMetrics
	Throughput ThroughputMetrics
	Resources  ResourceMetrics

	// SetupDuration is the time taken to create the items
	SetupDuration time.Duration
	// ReadyCount is the length of the ready list after setup
	ReadyCount int

	TotalDuration time.Duration
	ErrorCount    int
	ErrorRate     float64
}

// LatencyMetrics captures command latency statistics.
type LatencyMetrics struct {
	Min  time.Duration
	P50  time.Duration
	Mean time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration

	Durations []time.Duration `json:"-"`
}

// ThroughputMetrics captures commands-per-second metrics.
type ThroughputMetrics struct {
	QueriesPerSecond float64
	TotalQueries     int
}

// ResourceMetrics captures memory usage.
type ResourceMetrics struct {
	MemoryBeforeBytes uint64
	MemoryAfterBytes  uint64
	MemoryPeakBytes   uint64
	MemoryDeltaBytes  uint64
}

// ComputeStats calculates statistics from raw durations.
func ComputeStats(durations []time.Duration) LatencyMetrics {
	if len(durations) == 0 {
		return LatencyMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyMetrics{
		Min:       sorted[0],
		P50:       sorted[len(sorted)*50/100],
		Mean:      sum / time.Duration(len(sorted)),
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Max:       sorted[len(sorted)-1],
		Durations: sorted,
	}
}

// GetMemoryStats returns current memory usage.
func GetMemoryStats() ResourceMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ResourceMetrics{
		MemoryBeforeBytes: m.Alloc,
		MemoryAfterBytes:  m.Alloc,
		MemoryPeakBytes:   m.Sys,
	}
}

// CompareMemoryStats computes the delta between two snapshots. A shrinking
// heap has a zero delta.
func CompareMemoryStats(before, after ResourceMetrics) ResourceMetrics {
	var delta uint64
	if after.MemoryAfterBytes > before.MemoryBeforeBytes {
		delta = after.MemoryAfterBytes - before.MemoryBeforeBytes
	}
	return ResourceMetrics{
		MemoryBeforeBytes: before.MemoryBeforeBytes,
		MemoryAfterBytes:  after.MemoryAfterBytes,
		MemoryPeakBytes:   after.MemoryPeakBytes,
		MemoryDeltaBytes:  delta,
	}
}

// FormatBytes formats bytes into a human-readable string.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration into a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// PrintResult writes a formatted result.
func PrintResult(w io.Writer, r *Result) {
	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Clients:           %d\n", r.Config.Clients)
	fmt.Fprintf(w, "  Items:             %d\n", r.Config.Items)
	fmt.Fprintf(w, "  Queries/client:    %d\n", r.Config.QueriesPerClient)
	fmt.Fprintf(w, "  Blocked:           %.0f%%\n\n", r.Config.BlockedPct*100)

	fmt.Fprintf(w, "Setup:\n")
	fmt.Fprintf(w, "  Create items:      %s\n", FormatDuration(r.SetupDuration))
	fmt.Fprintf(w, "  Ready items:       %d\n\n", r.ReadyCount)

	fmt.Fprintf(w, "Latency:\n")
	fmt.Fprintf(w, "  Min:               %s\n", FormatDuration(r.Latency.Min))
	fmt.Fprintf(w, "  P50:               %s\n", FormatDuration(r.Latency.P50))
	fmt.Fprintf(w, "  Mean:              %s\n", FormatDuration(r.Latency.Mean))
	fmt.Fprintf(w, "  P95:               %s\n", FormatDuration(r.Latency.P95))
	fmt.Fprintf(w, "  P99:               %s\n", FormatDuration(r.Latency.P99))
	fmt.Fprintf(w, "  Max:               %s\n\n", FormatDuration(r.Latency.Max))

	fmt.Fprintf(w, "Throughput:\n")
	fmt.Fprintf(w, "  Queries/sec:       %.2f\n", r.Throughput.QueriesPerSecond)
	fmt.Fprintf(w, "  Total queries:     %d\n\n", r.Throughput.TotalQueries)

	fmt.Fprintf(w, "Memory:\n")
	fmt.Fprintf(w, "  Before:            %s\n", FormatBytes(r.Resources.MemoryBeforeBytes))
	fmt.Fprintf(w, "  After:             %s\n", FormatBytes(r.Resources.MemoryAfterBytes))
	fmt.Fprintf(w, "  Delta:             %s\n\n", FormatBytes(r.Resources.MemoryDeltaBytes))

	fmt.Fprintf(w, "Overall:\n")
	fmt.Fprintf(w, "  Duration:          %s\n", FormatDuration(r.TotalDuration))
	fmt.Fprintf(w, "  Errors:            %d (%.2f%%)\n", r.ErrorCount, r.ErrorRate*100)
}
