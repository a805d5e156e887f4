package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// Syncer is what the daemon drives.
type Syncer interface {
	Pull(ctx context.Context) error
	Push(ctx context.Context, force bool) error
	NeedsPush() bool
}

// Config holds configuration for the daemon.
type Config struct {
	// PullInterval is how often to pull; zero disables the pull ticker
	PullInterval time.Duration

	// PushInterval is how often to push pending commits; zero disables it
	PushInterval time.Duration

	// Debounce is how long the remote must be quiet before a watched
	// change triggers a pull
	Debounce time.Duration

	// RetryDelay is the first wait after a transient failure; later
	// retries double it up to the loop's interval
	RetryDelay time.Duration

	// WatchPath is a local bare remote to watch; empty disables watching
	WatchPath string

	Logger *zap.Logger
}

// DefaultConfig returns the default intervals.
func DefaultConfig() Config {
	return Config{
		PullInterval: 5 * time.Minute,
		PushInterval: 5 * time.Minute,
		Debounce:     2 * time.Second,
		RetryDelay:   15 * time.Second,
	}
}

// Stats counts what the daemon has done.
type Stats struct {
	Pulls    int
	Pushes   int
	Errors   int
	LastPull time.Time
	LastPush time.Time
	LastErr  error

	// Halted is set once a failure needs the user; the loops have
	// stopped and LastErr says why
	Halted bool
}

// Daemon runs the sync loops.
type Daemon struct {
	syncer Syncer
	config Config
	log    *zap.Logger

	watcher *RefWatcher

	mu        sync.Mutex
	stats     Stats
	changedAt time.Time // zero when no watched change is pending
	halted    chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. Use Start to run it.
func New(syncer Syncer, config Config) *Daemon {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Daemon{
		syncer: syncer,
		config: config,
		log:    config.Logger.Named("daemon"),
		halted: make(chan struct{}),
	}
}

// Start launches the loops and returns. They run until ctx is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cancel != nil {
		return errors.New("daemon already started")
	}
	ctx, cancel := context.WithCancel(ctx)

	if d.config.WatchPath != "" {
		w, err := NewRefWatcher()
		if err != nil {
			cancel()
			return err
		}
		if err := w.Start(d.config.WatchPath); err != nil {
			_ = w.watcher.Close()
			cancel()
			return fmt.Errorf("failed to watch remote: %w", err)
		}
		d.watcher = w
		d.wg.Add(2)
		go d.watchRefs(ctx)
		go d.processChanges(ctx)
	}
	d.cancel = cancel

	if d.config.PullInterval > 0 {
		d.wg.Add(1)
		go d.every(ctx, d.config.PullInterval, d.pull)
	}
	if d.config.PushInterval > 0 {
		d.wg.Add(1)
		go d.every(ctx, d.config.PushInterval, d.pushIfNeeded)
	}

	d.log.Info("daemon started",
		zap.Duration("pull_interval", d.config.PullInterval),
		zap.Duration("push_interval", d.config.PushInterval),
		zap.String("watch", d.config.WatchPath))
	return nil
}

// Stop cancels the loops and waits for them. It is safe to call twice.
func (d *Daemon) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.log.Warn("error closing watcher", zap.Error(err))
		}
	}
	d.wg.Wait()
	d.cancel = nil
	d.log.Info("daemon stopped")
}

// Stats returns a snapshot of the counters.
func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Halted is closed when a failure that needs the user stops the loops.
func (d *Daemon) Halted() <-chan struct{} {
	return d.halted
}

// every runs fn each interval. A retryable failure brings the next run
// forward with a doubling delay; a halt ends the loop.
func (d *Daemon) every(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	defer d.wg.Done()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	var retry time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.halted:
			return
		case <-timer.C:
			err := fn(ctx)
			select {
			case <-d.halted:
				return
			default:
			}
			next := interval
			if vcs.IsRetryable(err) {
				retry = nextRetry(retry, d.config.RetryDelay, interval)
				next = retry
				d.log.Debug("retrying", zap.Duration("in", next))
			} else {
				retry = 0
			}
			timer.Reset(next)
		}
	}
}

// nextRetry doubles prev, starting at first and capped at limit.
func nextRetry(prev, first, limit time.Duration) time.Duration {
	next := first
	if prev > 0 {
		next = 2 * prev
	}
	if next > limit {
		next = limit
	}
	return next
}

func (d *Daemon) watchRefs(ctx context.Context) {
	defer d.wg.Done()

	events, errs := d.watcher.Events(), d.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case branch, ok := <-events:
			if !ok {
				return
			}
			d.log.Debug("remote ref changed", zap.String("branch", branch))
			d.mu.Lock()
			d.changedAt = time.Now()
			d.mu.Unlock()
		case err, ok := <-errs:
			if !ok {
				return
			}
			d.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// processChanges pulls once the remote has been quiet for Debounce.
func (d *Daemon) processChanges(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.halted:
			return
		case <-ticker.C:
			d.mu.Lock()
			due := !d.changedAt.IsZero() && time.Since(d.changedAt) >= d.config.Debounce
			if due {
				d.changedAt = time.Time{}
			}
			d.mu.Unlock()
			if due {
				_ = d.pull(ctx)
			}
		}
	}
}

func (d *Daemon) pull(ctx context.Context) error {
	start := time.Now()
	err := d.syncer.Pull(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.failed("pull", err)
		return err
	}
	d.stats.Pulls++
	d.stats.LastPull = time.Now()
	d.log.Debug("pulled", zap.Duration("took", time.Since(start)))
	return nil
}

func (d *Daemon) pushIfNeeded(ctx context.Context) error {
	if !d.syncer.NeedsPush() {
		return nil
	}
	err := d.syncer.Push(ctx, false)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.failed("push", err)
		return err
	}
	d.stats.Pushes++
	d.stats.LastPush = time.Now()
	return nil
}

// failed records err; d.mu must be held. Conflicts, refused credentials
// and a missing repository or git binary halt the loops, since ticking
// again cannot fix them.
func (d *Daemon) failed(op string, err error) {
	d.stats.Errors++
	d.stats.LastErr = err
	if d.stats.Halted || errors.Is(err, context.Canceled) {
		return
	}
	if vcs.IsUserActionRequired(err) || vcs.IsFatal(err) {
		d.stats.Halted = true
		close(d.halted)
		d.log.Error(op+" failed, background sync stopped", zap.Error(err))
		return
	}
	d.log.Warn(op+" failed", zap.Error(err), zap.Bool("retry", vcs.IsRetryable(err)))
}

// Sync pulls and then pushes any pending commits.
func Sync(ctx context.Context, s Syncer) error {
	if err := s.Pull(ctx); err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	if !s.NeedsPush() {
		return nil
	}
	if err := s.Push(ctx, false); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}
