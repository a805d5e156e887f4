// Package git provides a git implementation of the vcs.Backend interface.
//
// Every operation works on a bare repository through git plumbing commands,
// so no working tree is ever checked out. Commands run with
// GIT_TERMINAL_PROMPT=0 so a missing credential fails instead of blocking.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// Git implements vcs.Backend for a bare git repository.
type Git struct {
	// path is the bare repository directory
	path string

	// env is appended to every command
	env []string
}

// New creates a Git backend for the repository at path.
// The repository does not have to exist yet.
func New(path string, opts vcs.Options) (*Git, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return &Git{path: absPath, env: opts.Env}, nil
}

// Name returns the VCS type (git)
func (g *Git) Name() vcs.Type {
	return vcs.TypeGit
}

// Path returns the bare repository directory
func (g *Git) Path() string {
	return g.path
}

// Version returns the git version string
func (g *Git) Version() (string, error) {
	output, err := vcs.ExecContext(context.Background(), 0, "", "git", "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}

	// Output format: "git version 2.39.0"
	return strings.TrimPrefix(vcs.TrimOutput(output), "git version "), nil
}

// Exists returns true if a bare repository is present at the path
func (g *Git) Exists() bool {
	if _, err := os.Stat(filepath.Join(g.path, "HEAD")); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(g.path, "objects"))
	return err == nil && info.IsDir()
}

// Exec executes a raw git command against the repository
func (g *Git) Exec(ctx context.Context, args ...string) ([]byte, error) {
	res, err := g.run(ctx, nil, nil, args...)
	if err != nil {
		return res.Stdout, err
	}
	return res.Stdout, nil
}

// run executes git with --git-dir pointing at the repository. stdin and
// env may be nil. The returned error wraps the exit error and stderr.
func (g *Git) run(ctx context.Context, stdin []byte, env []string, args ...string) (vcs.Result, error) {
	full := append([]string{"--git-dir", g.path}, args...)
	return runGit(ctx, stdin, g.commandEnv(env), full...)
}

func (g *Git) commandEnv(extra []string) []string {
	env := make([]string, 0, 1+len(g.env)+len(extra))
	env = append(env, "GIT_TERMINAL_PROMPT=0")
	env = append(env, g.env...)
	return append(env, extra...)
}

// runGit executes git without a repository context (init, clone).
func runGit(ctx context.Context, stdin []byte, env []string, args ...string) (vcs.Result, error) {
	c := vcs.Command{Name: "git", Args: args, Env: env}
	if stdin != nil {
		c.Stdin = bytes.NewReader(stdin)
	}

	res, err := vcs.Run(ctx, c)
	if err != nil {
		return res, fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return res, nil
}

// authFailure reports whether git output describes a credential problem.
func authFailure(stderr []byte) bool {
	s := strings.ToLower(string(stderr))
	for _, marker := range []string{
		"permission denied",
		"authentication failed",
		"could not read username",
		"could not read password",
		"host key verification failed",
		"invalid credentials",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
