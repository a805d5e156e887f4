package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanling-notes/fanling/internal/vcs"
)

type fakeSyncer struct {
	mu        sync.Mutex
	pulls     int
	pushes    int
	needsPush bool
	pullErr   error
	pushErr   error
}

func (f *fakeSyncer) Pull(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	return f.pullErr
}

func (f *fakeSyncer) Push(context.Context, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.pushErr != nil {
		return f.pushErr
	}
	f.needsPush = false
	return nil
}

func (f *fakeSyncer) NeedsPush() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needsPush
}

func (f *fakeSyncer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls, f.pushes
}

func TestTickers(t *testing.T) {
	s := &fakeSyncer{needsPush: true}
	d := New(s, Config{PullInterval: 10 * time.Millisecond, PushInterval: 10 * time.Millisecond})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	require.Eventually(t, func() bool {
		pulls, pushes := s.counts()
		return pulls >= 2 && pushes == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Nothing left to push, so no second push.
	time.Sleep(50 * time.Millisecond)
	_, pushes := s.counts()
	assert.Equal(t, 1, pushes)
	assert.Equal(t, 1, d.Stats().Pushes)
}

func TestPullErrorsAreCounted(t *testing.T) {
	s := &fakeSyncer{pullErr: errors.New("offline")}
	d := New(s, Config{PullInterval: 5 * time.Millisecond})
	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool { return d.Stats().Errors >= 2 }, 2*time.Second, 5*time.Millisecond)
	d.Stop()
	d.Stop()

	st := d.Stats()
	assert.Zero(t, st.Pulls)
	assert.EqualError(t, st.LastErr, "offline")
}

func TestRetryableFailureRetriesSooner(t *testing.T) {
	s := &fakeSyncer{pullErr: fmt.Errorf("git fetch: %w", vcs.ErrTimeout)}
	d := New(s, Config{PullInterval: 300 * time.Millisecond, RetryDelay: 2 * time.Millisecond})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	// Four failures at the plain interval would take 1.2s.
	require.Eventually(t, func() bool { return d.Stats().Errors >= 4 }, 900*time.Millisecond, 5*time.Millisecond)
	assert.False(t, d.Stats().Halted)
}

func TestNextRetry(t *testing.T) {
	first, limit := time.Second, 5*time.Second
	var got []time.Duration
	var r time.Duration
	for i := 0; i < 5; i++ {
		r = nextRetry(r, first, limit)
		got = append(got, r)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, limit, limit}, got)
}

func TestUserActionHaltsLoops(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("merge: %w", vcs.ErrConflicts),
		fmt.Errorf("fetch: %w", vcs.ErrAuth),
		fmt.Errorf("git: %w", vcs.ErrVCSNotAvailable),
	} {
		t.Run(err.Error(), func(t *testing.T) {
			s := &fakeSyncer{pullErr: err, needsPush: true}
			d := New(s, Config{PullInterval: 5 * time.Millisecond})
			require.NoError(t, d.Start(context.Background()))
			defer d.Stop()

			select {
			case <-d.Halted():
			case <-time.After(2 * time.Second):
				t.Fatal("daemon did not halt")
			}
			time.Sleep(30 * time.Millisecond)
			pulls, _ := s.counts()
			assert.Equal(t, 1, pulls)

			st := d.Stats()
			assert.True(t, st.Halted)
			assert.ErrorIs(t, st.LastErr, err)
			assert.Equal(t, 1, st.Errors)
		})
	}
}

func TestPushFailureHalts(t *testing.T) {
	s := &fakeSyncer{needsPush: true, pushErr: fmt.Errorf("push: %w", vcs.ErrNotARepo)}
	d := New(s, Config{PullInterval: time.Hour, PushInterval: 5 * time.Millisecond})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	select {
	case <-d.Halted():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not halt")
	}
	time.Sleep(30 * time.Millisecond)
	_, pushes := s.counts()
	assert.Equal(t, 1, pushes)
	assert.True(t, d.Stats().Halted)
}

func TestStartTwice(t *testing.T) {
	d := New(&fakeSyncer{}, Config{})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()
	require.Error(t, d.Start(context.Background()))
}

func TestWatchedRefChangeTriggersPull(t *testing.T) {
	repo := t.TempDir()
	heads := filepath.Join(repo, "refs", "heads")
	require.NoError(t, os.MkdirAll(heads, 0o755))

	s := &fakeSyncer{}
	d := New(s, Config{Debounce: 40 * time.Millisecond, WatchPath: repo})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	// A burst of updates is one pull.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(heads, "main"), []byte("0123\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		pulls, _ := s.counts()
		return pulls == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	pulls, _ := s.counts()
	assert.Equal(t, 1, pulls)
}

func TestWatchMissingRepo(t *testing.T) {
	d := New(&fakeSyncer{}, Config{WatchPath: filepath.Join(t.TempDir(), "absent")})
	require.Error(t, d.Start(context.Background()))
}

func TestSync(t *testing.T) {
	s := &fakeSyncer{needsPush: true}
	require.NoError(t, Sync(context.Background(), s))
	pulls, pushes := s.counts()
	assert.Equal(t, 1, pulls)
	assert.Equal(t, 1, pushes)

	s = &fakeSyncer{pullErr: errors.New("offline"), needsPush: true}
	require.Error(t, Sync(context.Background(), s))
	_, pushes = s.counts()
	assert.Zero(t, pushes)
}
