package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// RemoteURL returns the URL configured for a remote
func (g *Git) RemoteURL(ctx context.Context, remote string) (string, error) {
	res, err := g.run(ctx, nil, nil, "config", "--get", "remote."+remote+".url")
	if err != nil {
		if res.ExitCode == 1 {
			return "", fmt.Errorf("%s: %w", remote, vcs.ErrNoRemote)
		}
		return "", err
	}
	return vcs.TrimOutput(res.Stdout), nil
}

// SetRemote adds the remote, or updates its URL if it already exists
func (g *Git) SetRemote(ctx context.Context, remote, url string) error {
	current, err := g.RemoteURL(ctx, remote)
	if err == nil {
		if current == url {
			return nil
		}
		_, err = g.run(ctx, nil, nil, "remote", "set-url", remote, url)
		return err
	}
	_, err = g.run(ctx, nil, nil, "remote", "add", remote, url)
	return err
}

// Fetch fetches a refspec from the remote
func (g *Git) Fetch(ctx context.Context, opts vcs.FetchOptions) error {
	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}

	args := []string{"fetch", "-q", remote}
	if opts.Refspec != "" {
		args = append(args, opts.Refspec)
	}

	res, err := g.run(ctx, nil, opts.Env, args...)
	if err != nil {
		stderr := string(res.Stderr)
		if strings.Contains(stderr, "couldn't find remote ref") {
			return fmt.Errorf("%s %s: %w", remote, opts.Refspec, vcs.ErrRefNotFound)
		}
		if authFailure(res.Stderr) {
			return fmt.Errorf("%w: %v", vcs.ErrAuth, err)
		}
		return err
	}

	return nil
}

// Push pushes a refspec to the remote
func (g *Git) Push(ctx context.Context, opts vcs.PushOptions) error {
	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}

	args := []string{"push", "-q"}
	if opts.Force {
		args = append(args, "--force")
	}
	args = append(args, remote)
	if opts.Refspec != "" {
		args = append(args, opts.Refspec)
	}

	res, err := g.run(ctx, nil, opts.Env, args...)
	if err != nil {
		stderr := string(res.Stderr)

		// Check for push rejection
		if strings.Contains(stderr, "rejected") || strings.Contains(stderr, "non-fast-forward") {
			return fmt.Errorf("%w: %v", vcs.ErrPushRejected, err)
		}
		if authFailure(res.Stderr) {
			return fmt.Errorf("%w: %v", vcs.ErrAuth, err)
		}

		return err
	}

	return nil
}
