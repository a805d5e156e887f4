package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/vcs"
)

func testCredentials(t *testing.T) *credentials {
	t.Helper()
	key := filepath.Join(t.TempDir(), "id_test")
	if err := os.WriteFile(key, []byte("key"), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return &credentials{keyFile: key, keyMaterial: []byte("material"), log: zap.NewNop()}
}

func TestCredentialsAdvanceOnAuthFailure(t *testing.T) {
	c := testCredentials(t)

	var envs [][]string
	err := c.run(context.Background(), func(env []string) error {
		envs = append(envs, env)
		return fmt.Errorf("git fetch: %w", vcs.ErrAuth)
	})
	if !errors.Is(err, vcs.ErrAuth) {
		t.Fatalf("run() error = %v, want ErrAuth", err)
	}
	if len(envs) != 3 {
		t.Fatalf("op called %d times, want 3", len(envs))
	}
	if len(envs[0]) != 1 || !strings.Contains(envs[0][0], c.keyFile) {
		t.Errorf("first env = %q, want the key file", envs[0])
	}
	if len(envs[2]) != 0 {
		t.Errorf("last env = %q, want git's own helper", envs[2])
	}
}

func TestCredentialsStopOnOtherFailure(t *testing.T) {
	c := testCredentials(t)

	calls := 0
	err := c.run(context.Background(), func([]string) error {
		calls++
		return fmt.Errorf("git fetch: %w", vcs.ErrTimeout)
	})
	if !errors.Is(err, vcs.ErrTimeout) {
		t.Errorf("run() error = %v, want ErrTimeout", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}

	calls = 0
	err = c.run(context.Background(), func([]string) error {
		calls++
		if calls == 1 {
			return vcs.ErrAuth
		}
		return nil
	})
	if err != nil {
		t.Errorf("run() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("op called %d times, want 2", calls)
	}
}
