package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// Structure is the structural health of the repository.
type Structure int

const (
	// Good means HEAD is the branch and the item dir exists
	Good Structure = iota
	// BadHead means HEAD does not resolve to a commit
	BadHead
	// HeadNotBranch means HEAD is not the configured branch
	HeadNotBranch
	// NoSubTree means the item dir is missing from the head tree
	NoSubTree
)

func (st Structure) String() string {
	switch st {
	case Good:
		return "good"
	case BadHead:
		return "bad-head"
	case HeadNotBranch:
		return "head-not-branch"
	case NoSubTree:
		return "no-sub-tree"
	default:
		return "unknown"
	}
}

const readmeText = "This directory holds one file per item.\n"

// CheckStructure reports the structural state of the repository.
func (s *Store) CheckStructure(ctx context.Context) (Structure, error) {
	if _, err := s.repo.ResolveRef(ctx, "HEAD"); err != nil {
		if errors.Is(err, vcs.ErrRefNotFound) {
			return BadHead, nil
		}
		return Good, err
	}

	head, err := s.repo.SymbolicRef(ctx, "HEAD")
	if errors.Is(err, vcs.ErrDetached) || (err == nil && head != s.branchRef()) {
		return HeadNotBranch, nil
	}
	if err != nil {
		return Good, err
	}

	if _, err := s.itemEntries(ctx, "HEAD"); err != nil {
		if errors.Is(err, vcs.ErrPathNotFound) {
			return NoSubTree, nil
		}
		return Good, err
	}
	return Good, nil
}

// ensureStructure heals the repository once at open.
func (s *Store) ensureStructure(ctx context.Context) error {
	const maxPasses = 3
	for pass := 0; pass < maxPasses; pass++ {
		st, err := s.CheckStructure(ctx)
		if err != nil {
			return fmt.Errorf("failed to check repository structure: %w", err)
		}
		if st == Good {
			return nil
		}
		s.log.Warn("healing repository structure", zap.Stringer("state", st))

		switch st {
		case BadHead:
			err = s.initialCommit(ctx)
		case HeadNotBranch:
			err = s.attachHead(ctx)
		default:
			err = s.addItemDir(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to heal repository (%s): %w", st, err)
		}
	}
	return fmt.Errorf("repository structure still bad after %d passes", maxPasses)
}

// initialCommit creates the first commit with an item dir holding a README.
func (s *Store) initialCommit(ctx context.Context) error {
	if err := s.repo.SetSymbolicRef(ctx, "HEAD", s.branchRef()); err != nil {
		return err
	}
	readme, err := s.repo.HashObject(ctx, []byte(readmeText))
	if err != nil {
		return err
	}
	items, err := s.repo.MakeTree(ctx, []vcs.TreeEntry{
		{Mode: vcs.ModeBlob, Kind: vcs.KindBlob, Oid: readme, Name: "README"},
	})
	if err != nil {
		return err
	}
	root, err := s.repo.MakeTree(ctx, []vcs.TreeEntry{
		{Mode: vcs.ModeTree, Kind: vcs.KindTree, Oid: items, Name: s.opts.ItemDir},
	})
	if err != nil {
		return err
	}
	return s.commitTree(ctx, root, nil, "initial commit", "")
}

// attachHead points HEAD at the configured branch, creating the branch at
// the current HEAD commit if it does not exist yet.
func (s *Store) attachHead(ctx context.Context) error {
	head, err := s.repo.ResolveRef(ctx, "HEAD")
	if err != nil {
		return err
	}
	if _, err := s.repo.ResolveRef(ctx, s.branchRef()); errors.Is(err, vcs.ErrRefNotFound) {
		if err := s.repo.UpdateRef(ctx, s.branchRef(), head, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return s.repo.SetSymbolicRef(ctx, "HEAD", s.branchRef())
}

// addItemDir adds the item dir on top of the existing head tree.
func (s *Store) addItemDir(ctx context.Context) error {
	head, err := s.Head(ctx)
	if err != nil {
		return err
	}
	root, err := s.repo.ReadTree(ctx, head.String())
	if err != nil {
		return err
	}
	readme, err := s.repo.HashObject(ctx, []byte(readmeText))
	if err != nil {
		return err
	}
	items, err := s.repo.MakeTree(ctx, []vcs.TreeEntry{
		{Mode: vcs.ModeBlob, Kind: vcs.KindBlob, Oid: readme, Name: "README"},
	})
	if err != nil {
		return err
	}
	newRoot, err := s.repo.MakeTree(ctx, replaceEntry(root, vcs.TreeEntry{
		Mode: vcs.ModeTree, Kind: vcs.KindTree, Oid: items, Name: s.opts.ItemDir,
	}))
	if err != nil {
		return err
	}
	return s.commitTree(ctx, newRoot, []vcs.Oid{head}, "add "+s.opts.ItemDir+" directory", head)
}

// replaceEntry returns entries with e added or replacing the entry of the same name.
func replaceEntry(entries []vcs.TreeEntry, e vcs.TreeEntry) []vcs.TreeEntry {
	out := make([]vcs.TreeEntry, 0, len(entries)+1)
	for _, x := range entries {
		if x.Name != e.Name {
			out = append(out, x)
		}
	}
	return append(out, e)
}
