// Package engine is the boundary between a host (CLI, websocket server,
// sync daemon) and the world. It owns the process lock and the status
// file, serialises commands, and never lets an error or a panic escape as
// anything but an error response.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/protocol"
	"github.com/fanling-notes/fanling/internal/status"
	"github.com/fanling-notes/fanling/internal/world"
)

// Engine errors.
var (
	// ErrLocked is returned by New when another engine holds the data root.
	ErrLocked = errors.New("data root is in use by another process")

	// ErrClosed is returned for commands after Shutdown or Close.
	ErrClosed = errors.New("engine is closed")

	// ErrTest is the error raised by TestError1.
	ErrTest = errors.New("test error")
)

// LockFile is the name of the lock file inside the data root.
const LockFile = "fanling.lock"

// Options configures an engine.
type Options struct {
	World world.Options

	// Root is the data root holding the lock file
	Root string

	// StatusPath is the status file (default <Root>/status.toml)
	StatusPath string

	// Version is recorded in the status file
	Version string

	Logger *zap.Logger

	// Fs is used for the status file and DeleteEverything (default OS)
	Fs afero.Fs
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.World.Logger == nil {
		o.World.Logger = o.Logger
	}
	if o.StatusPath == "" {
		o.StatusPath = filepath.Join(o.Root, "status.toml")
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	return o
}

// Engine runs commands against one world. It is safe for concurrent use.
type Engine struct {
	mu    sync.Mutex
	opts  Options
	log   *zap.Logger
	lock  *flock.Flock
	world *world.World
}

// New takes the data root lock and opens the world. Whether the world was
// built is recorded in the status file either way.
//
// The caller MUST call Close() (or send Shutdown) when done.
func New(ctx context.Context, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	e := &Engine{
		opts: opts,
		log:  opts.Logger.Named("engine"),
	}

	if err := opts.Fs.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}
	e.lock = flock.New(filepath.Join(opts.Root, LockFile))
	locked, err := e.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to take lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	prev, err := status.Load(opts.Fs, opts.StatusPath)
	if err != nil {
		e.log.Warn("status file unreadable", zap.Error(err))
	} else if prev.Status == status.Bad {
		e.log.Info("previous start failed", zap.Time("at", prev.Updated))
	}

	start := time.Now()
	w, err := world.Open(ctx, opts.World)
	if err != nil {
		err = multierr.Append(err, e.setStatus(status.Bad))
		return nil, multierr.Append(err, e.lock.Unlock())
	}
	e.world = w
	if err := e.setStatus(status.Built); err != nil {
		e.log.Warn("failed to record status", zap.Error(err))
	}
	e.log.Info("engine started", zap.Duration("took", time.Since(start)))
	return e, nil
}

func (e *Engine) setStatus(st status.WorldStatus) error {
	return status.Set(e.opts.Fs, e.opts.StatusPath, st, e.opts.Version)
}

// Execute decodes and runs one command envelope. The returned response is
// never nil; failures are error responses.
func (e *Engine) Execute(ctx context.Context, body string) *protocol.Response {
	req, err := protocol.DecodeString(body)
	if err != nil {
		e.log.Debug("bad command", zap.String("body", body), zap.Error(err))
		return protocol.ErrorResponse(err)
	}
	return e.Run(ctx, req)
}

// Run executes a decoded request.
func (e *Engine) Run(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("command panicked",
				zap.Stringer("action", req.Action),
				zap.Any("panic", r),
				zap.Stack("stack"))
			resp = protocol.ErrorResponse(fmt.Errorf("internal error: %v", r))
		}
	}()

	if e.world == nil {
		return protocol.ErrorResponse(ErrClosed)
	}

	start := time.Now()
	var err error
	if req.Action.Class() == protocol.ClassEngine {
		resp, err = e.engineAction(ctx, req.Action)
	} else {
		resp, err = e.world.Do(ctx, req)
	}
	if err != nil {
		e.log.Debug("command failed", zap.Stringer("action", req.Action), zap.Error(err))
		resp = protocol.ErrorResponse(err)
	}
	e.log.Debug("command done",
		zap.Stringer("action", req.Action),
		zap.String("ident", req.Ident),
		zap.Duration("took", time.Since(start)))
	return resp
}

func (e *Engine) engineAction(ctx context.Context, act protocol.Action) (*protocol.Response, error) {
	switch act.Name {
	case protocol.Shutdown:
		return e.shutdown(e.closeLocked())

	case protocol.PushAndQuit:
		if err := e.world.Push(ctx, act.Force); err != nil {
			return nil, err
		}
		return e.shutdown(e.closeLocked())

	case protocol.DeleteEverything:
		return e.shutdown(e.deleteEverything())

	case protocol.TestError1:
		return nil, ErrTest

	default:
		return nil, fmt.Errorf("%s: %w", act.Name, protocol.ErrUnknownAction)
	}
}

func (e *Engine) shutdown(err error) (*protocol.Response, error) {
	resp := protocol.NewResponse()
	if err != nil {
		resp = protocol.ErrorResponse(err)
	}
	resp.Shutdown = true
	return resp, nil
}

func (e *Engine) deleteEverything() error {
	repo, idx := e.world.StorePath(), e.world.IndexPath()
	err := e.closeLocked()
	fs := e.opts.Fs
	err = multierr.Append(err, fs.RemoveAll(repo))
	for _, p := range []string{idx, idx + "-wal", idx + "-shm"} {
		err = multierr.Append(err, fs.RemoveAll(p))
	}
	err = multierr.Append(err, status.Remove(fs, e.opts.StatusPath))
	e.log.Warn("deleted all data", zap.String("repo", repo), zap.String("index", idx))
	return err
}

// closeLocked closes the world and releases the lock. e.mu must be held.
func (e *Engine) closeLocked() error {
	if e.world == nil {
		return nil
	}
	err := e.world.Close()
	e.world = nil
	err = multierr.Append(err, e.lock.Unlock())
	e.log.Info("engine closed")
	return err
}

// Close closes the world without pushing. It is safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

// Closed reports whether the engine has shut down.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world == nil
}

// NeedsPush reports whether local commits await a push.
func (e *Engine) NeedsPush() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world != nil && e.world.NeedsPush()
}

// Pull fetches and merges from the remote.
func (e *Engine) Pull(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.world == nil {
		return ErrClosed
	}
	return e.world.Pull(ctx)
}

// Push sends local commits to the remote.
func (e *Engine) Push(ctx context.Context, force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.world == nil {
		return ErrClosed
	}
	return e.world.Push(ctx, force)
}

// Always returns a response holding only the always tag.
func (e *Engine) Always() (*protocol.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.world == nil {
		return nil, ErrClosed
	}
	return e.world.AddAlways(protocol.NewResponse())
}

// With runs fn with the world while holding the engine lock.
func (e *Engine) With(fn func(*world.World) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.world == nil {
		return ErrClosed
	}
	return fn(e.world)
}
