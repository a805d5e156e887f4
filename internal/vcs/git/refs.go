package git

import (
	"context"
	"fmt"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// ResolveRef resolves a ref to a commit id
// Returns vcs.ErrRefNotFound for an unborn or missing ref
func (g *Git) ResolveRef(ctx context.Context, ref string) (vcs.Oid, error) {
	res, err := g.run(ctx, nil, nil, "rev-parse", "--verify", "-q", ref+"^{commit}")
	if err != nil {
		if res.ExitCode == 1 || res.ExitCode == 128 {
			return "", fmt.Errorf("%s: %w", ref, vcs.ErrRefNotFound)
		}
		return "", err
	}
	return vcs.Oid(vcs.FirstWord(res.Stdout)), nil
}

// UpdateRef points ref at newOid, optionally checking the old value
func (g *Git) UpdateRef(ctx context.Context, ref string, newOid, oldOid vcs.Oid) error {
	args := []string{"update-ref", ref, newOid.String()}
	if oldOid != "" {
		args = append(args, oldOid.String())
	}
	if _, err := g.run(ctx, nil, nil, args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", ref, err)
	}
	return nil
}

// SymbolicRef returns the full ref name a symbolic ref points at
// Returns vcs.ErrDetached if the ref is not symbolic
func (g *Git) SymbolicRef(ctx context.Context, name string) (string, error) {
	res, err := g.run(ctx, nil, nil, "symbolic-ref", "-q", name)
	if err != nil {
		if res.ExitCode == 1 {
			return "", vcs.ErrDetached
		}
		return "", err
	}
	return vcs.TrimOutput(res.Stdout), nil
}

// SetSymbolicRef points a symbolic ref at target
func (g *Git) SetSymbolicRef(ctx context.Context, name, target string) error {
	if _, err := g.run(ctx, nil, nil, "symbolic-ref", name, target); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

// IsAncestor returns true if a is an ancestor of (or equal to) b
func (g *Git) IsAncestor(ctx context.Context, a, b vcs.Oid) (bool, error) {
	res, err := g.run(ctx, nil, nil, "merge-base", "--is-ancestor", a.String(), b.String())
	if err == nil {
		return true, nil
	}
	if res.ExitCode == 1 {
		return false, nil
	}
	return false, err
}
