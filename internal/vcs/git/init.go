package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// init registers the git backend with the vcs registry.
// This is called automatically when the package is imported.
func init() {
	vcs.Register(vcs.TypeGit, func(path string, opts vcs.Options) (vcs.Backend, error) {
		return New(path, opts)
	})
}

// Init creates an empty bare repository whose HEAD names branch
func (g *Git) Init(ctx context.Context, branch string) error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if _, err := runGit(ctx, nil, g.commandEnv(nil), "init", "--bare", "-q", g.path); err != nil {
		return err
	}
	return g.SetSymbolicRef(ctx, "HEAD", "refs/heads/"+branch)
}

// Clone creates a bare clone of opts.URL at the repository path
func (g *Git) Clone(ctx context.Context, opts vcs.CloneOptions) error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	res, err := runGit(ctx, nil, g.commandEnv(opts.Env), "clone", "--bare", "-q", opts.URL, g.path)
	if err != nil {
		if authFailure(res.Stderr) {
			return fmt.Errorf("%w: %v", vcs.ErrAuth, err)
		}
		return err
	}
	return nil
}
