package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RefWatcher reports branch updates in a bare git repository by watching
// its refs/heads directory.
type RefWatcher struct {
	watcher *fsnotify.Watcher
	events  chan string
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewRefWatcher creates a watcher. It emits nothing until Start.
func NewRefWatcher() (*RefWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &RefWatcher{
		watcher: watcher,
		events:  make(chan string, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start watches <repo>/refs/heads.
func (rw *RefWatcher) Start(repo string) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.running {
		return fmt.Errorf("watcher already running")
	}
	rw.dir = filepath.Join(repo, "refs", "heads")
	if err := rw.watcher.Add(rw.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", rw.dir, err)
	}

	rw.running = true
	rw.wg.Add(1)
	go rw.processEvents()
	return nil
}

// Stop stops watching and waits for the event loop to exit. The channels
// are closed afterwards.
func (rw *RefWatcher) Stop() error {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.done)
	err := rw.watcher.Close()
	rw.wg.Wait()
	close(rw.events)
	close(rw.errors)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events emits the name of each branch that changed.
func (rw *RefWatcher) Events() <-chan string {
	return rw.events
}

// Errors emits watcher errors.
func (rw *RefWatcher) Errors() <-chan error {
	return rw.errors
}

func (rw *RefWatcher) processEvents() {
	defer rw.wg.Done()

	for {
		select {
		case <-rw.done:
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			branch, ok := refName(event)
			if !ok {
				continue
			}
			select {
			case rw.events <- branch:
			case <-rw.done:
				return
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case rw.errors <- err:
			case <-rw.done:
				return
			}
		}
	}
}

// refName returns the branch an event is about. Git writes a ref through
// a <name>.lock file that is renamed into place, so lock files are skipped.
func refName(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	name := filepath.Base(event.Name)
	if strings.HasSuffix(name, ".lock") || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}

// IsRunning reports whether the watcher has been started and not stopped.
func (rw *RefWatcher) IsRunning() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.running
}
