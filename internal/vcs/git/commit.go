package git

import (
	"context"
	"errors"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// CommitTree writes a commit object and returns its id.
// The author is used for both author and committer so that commits made
// by the store do not depend on git config.
func (g *Git) CommitTree(ctx context.Context, opts vcs.CommitOptions) (vcs.Oid, error) {
	if opts.Tree.IsZero() {
		return "", errors.New("commit-tree: tree is required")
	}
	if opts.Message == "" {
		return "", errors.New("commit-tree: message is required")
	}

	args := []string{"commit-tree", opts.Tree.String()}
	for _, p := range opts.Parents {
		args = append(args, "-p", p.String())
	}
	args = append(args, "-m", opts.Message)

	var env []string
	if opts.Author.Name != "" {
		env = append(env,
			"GIT_AUTHOR_NAME="+opts.Author.Name,
			"GIT_COMMITTER_NAME="+opts.Author.Name,
		)
	}
	if opts.Author.Email != "" {
		env = append(env,
			"GIT_AUTHOR_EMAIL="+opts.Author.Email,
			"GIT_COMMITTER_EMAIL="+opts.Author.Email,
		)
	}

	res, err := g.run(ctx, nil, env, args...)
	if err != nil {
		return "", err
	}
	return vcs.Oid(vcs.TrimOutput(res.Stdout)), nil
}
