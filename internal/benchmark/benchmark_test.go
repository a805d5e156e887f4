package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fanling-notes/fanling/internal/engine"
	"github.com/fanling-notes/fanling/internal/protocol"
	"github.com/fanling-notes/fanling/internal/store"
	"github.com/fanling-notes/fanling/internal/world"
)

// fakeExec answers creates with sequential idents and counts the commands it sees.
type fakeExec struct {
	mu      sync.Mutex
	created int
	blocks  int
	reads   int
}

func (f *fakeExec) Execute(ctx context.Context, body string) *protocol.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &protocol.Response{Diagnostics: map[string]string{}}
	switch {
	case strings.Contains(body, `"Create"`):
		f.created++
		resp.Diagnostics["ident"] = fmt.Sprintf("task-%d", f.created)
	case strings.Contains(body, `"BlockBy"`):
		f.blocks++
	default:
		f.reads++
		resp.Diagnostics["count"] = fmt.Sprint(f.created - f.blocks)
	}
	return resp
}

func TestComputeStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := ComputeStats(ds)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", s.P99)
	}
	if ds[0] != 100*time.Millisecond {
		t.Error("ComputeStats sorted its input")
	}
	if got := ComputeStats(nil); got.Max != 0 {
		t.Errorf("empty stats = %+v", got)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatBytes(512), "512 B"},
		{FormatBytes(1536), "1.5 KB"},
		{FormatBytes(3 << 20), "3.0 MB"},
		{FormatDuration(500 * time.Nanosecond), "500ns"},
		{FormatDuration(1500 * time.Nanosecond), "1.50µs"},
		{FormatDuration(2500 * time.Microsecond), "2.50ms"},
		{FormatDuration(1500 * time.Millisecond), "1.50s"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() failed: %v", err)
	}
	bad := []Config{
		{Clients: 0, Items: 1, QueriesPerClient: 1},
		{Clients: 1, Items: 0, QueriesPerClient: 1},
		{Clients: 1, Items: 1, QueriesPerClient: 0},
		{Clients: 1, Items: 1, QueriesPerClient: 1, BlockedPct: 1.5},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) succeeded", c)
		}
	}
}

func TestRunCountsQueries(t *testing.T) {
	f := &fakeExec{}
	cfg := Config{Clients: 4, Items: 10, QueriesPerClient: 6, BlockedPct: 0.5}
	r, err := Run(context.Background(), f, cfg)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if f.created != 10 {
		t.Errorf("created %d items, want 10", f.created)
	}
	if r.Throughput.TotalQueries != 24 {
		t.Errorf("TotalQueries = %d, want 24", r.Throughput.TotalQueries)
	}
	if r.ReadyCount != 10-f.blocks {
		t.Errorf("ReadyCount = %d, want %d", r.ReadyCount, 10-f.blocks)
	}
	if r.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d", r.ErrorCount)
	}

	var buf bytes.Buffer
	PrintResult(&buf, r)
	if !strings.Contains(buf.String(), "Total queries:     24") {
		t.Errorf("PrintResult output missing totals:\n%s", buf.String())
	}
}

func TestRunAgainstEngine(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	e, err := engine.New(context.Background(), engine.Options{
		Root: dir,
		World: world.Options{
			Store: store.Options{
				Path:  filepath.Join(dir, "repo"),
				Name:  "bench",
				Email: "bench@example.com",
			},
			IndexPath:  filepath.Join(dir, "index.db"),
			UniqPrefix: "b",
		},
	})
	if err != nil {
		t.Fatalf("engine.New() failed: %v", err)
	}
	defer e.Close()

	r, err := Run(context.Background(), e, Config{Clients: 3, Items: 5, QueriesPerClient: 4})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if r.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", r.ErrorCount)
	}
	// five tasks plus the default context
	if r.ReadyCount != 6 {
		t.Errorf("ReadyCount = %d, want 6", r.ReadyCount)
	}
}
