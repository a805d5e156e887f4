package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/fanling-notes/fanling/internal/protocol"
)

// Executor runs command envelopes; *engine.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, body string) *protocol.Response
}

// Populate creates cfg.Items tasks with priorities weighted toward the
// default. A BlockedPct share of them is blocked by the task before.
func Populate(ctx context.Context, exec Executor, cfg Config, rng *rand.Rand) ([]string, error) {
	idents := make([]string, 0, cfg.Items)
	for i := 0; i < cfg.Items; i++ {
		prio := 10
		if r := rng.Float64(); r < 0.2 {
			prio = 1 + rng.Intn(5)
		} else if r > 0.9 {
			prio = 20
		}
		body := fmt.Sprintf(`{"t":"Task","a":{"Create":[{},{"name":"Task %d","priority":"%d"}]}}`, i, prio)
		resp := exec.Execute(ctx, body)
		if resp.IsError {
			msg, _ := resp.Tag(protocol.TagError)
			return idents, fmt.Errorf("failed to create task %d: %s", i, msg)
		}
		ident := resp.Diagnostics["ident"]

		if len(idents) > 0 && rng.Float64() < cfg.BlockedPct {
			blocker := idents[rng.Intn(len(idents))]
			resp = exec.Execute(ctx, `{"i":"`+ident+`","a":{"BlockBy":"`+blocker+`"}}`)
			if resp.IsError {
				msg, _ := resp.Tag(protocol.TagError)
				return idents, fmt.Errorf("failed to block %s: %s", ident, msg)
			}
		}
		idents = append(idents, ident)
	}
	return idents, nil
}

// Run populates exec and then has cfg.Clients goroutines send a mix of
// ListReady and Show commands.
func Run(ctx context.Context, exec Executor, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	memBefore := GetMemoryStats()
	rng := rand.New(rand.NewSource(1))

	setupStart := time.Now()
	idents, err := Populate(ctx, exec, cfg, rng)
	if err != nil {
		return nil, err
	}
	result := &Result{Config: cfg, SetupDuration: time.Since(setupStart)}

	ready := exec.Execute(ctx, `{"a":"ListReady"}`)
	result.ReadyCount, _ = strconv.Atoi(ready.Diagnostics["count"])

	var (
		mu        sync.Mutex
		durations = make([]time.Duration, 0, cfg.Clients*cfg.QueriesPerClient)
		errCount  int
		wg        sync.WaitGroup
	)
	start := time.Now()
	for c := 0; c < cfg.Clients; c++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			local := make([]time.Duration, 0, cfg.QueriesPerClient)
			failed := 0
			for q := 0; q < cfg.QueriesPerClient && ctx.Err() == nil; q++ {
				body := `{"a":"ListReady"}`
				if q%2 == 1 {
					body = `{"i":"` + idents[r.Intn(len(idents))] + `","a":"Show"}`
				}
				t := time.Now()
				resp := exec.Execute(ctx, body)
				local = append(local, time.Since(t))
				if resp.IsError {
					failed++
				}
			}
			mu.Lock()
			durations = append(durations, local...)
			errCount += failed
			mu.Unlock()
		}(int64(c) + 2)
	}
	wg.Wait()
	elapsed := time.Since(start)

	result.Latency = ComputeStats(durations)
	result.Throughput = ThroughputMetrics{
		QueriesPerSecond: float64(len(durations)) / elapsed.Seconds(),
		TotalQueries:     len(durations),
	}
	result.Resources = CompareMemoryStats(memBefore, GetMemoryStats())
	result.TotalDuration = time.Since(setupStart)
	result.ErrorCount = errCount
	if len(durations) > 0 {
		result.ErrorRate = float64(errCount) / float64(len(durations))
	}
	return result, ctx.Err()
}
