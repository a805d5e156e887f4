package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// MergeKind classifies a merge outcome.
type MergeKind int

const (
	// AlreadyUpToDate means there is nothing to merge
	AlreadyUpToDate MergeKind = iota
	// Merged means the histories merged without conflicts
	Merged
	// Conflicted means at least one item was edited on both sides
	Conflicted
)

func (k MergeKind) String() string {
	switch k {
	case AlreadyUpToDate:
		return "already-up-to-date"
	case Merged:
		return "merged"
	case Conflicted:
		return "conflict"
	default:
		return "unknown"
	}
}

// ConflictEntry is one side of a conflicted item.
type ConflictEntry struct {
	Path string
	Oid  vcs.Oid
	Data []byte
}

// Conflict holds the versions of one item that could not be merged.
// Any side may be nil, e.g. when an item was deleted on one side.
type Conflict struct {
	Path     string
	Ident    string
	Ancestor *ConflictEntry
	Our      *ConflictEntry
	Their    *ConflictEntry
}

// Complete reports whether all three versions are present.
func (c *Conflict) Complete() bool {
	return c.Ancestor != nil && c.Our != nil && c.Their != nil
}

// MergeOutcome is the result of Merge. For a conflicted merge it carries
// the mergeable index: the item dir of the merge result, which resolutions
// are written into before CommitMerge.
type MergeOutcome struct {
	Kind   MergeKind
	Ours   vcs.Oid
	Theirs vcs.Oid

	// root holds the top-level entries of the merged tree
	root []vcs.TreeEntry

	// index maps item file names to entries of the merged item dir
	index map[string]vcs.TreeEntry

	// conflicts in path order; resolved ones are removed
	conflicts []*Conflict
}

// Conflicts returns the unresolved conflicts.
func (m *MergeOutcome) Conflicts() []*Conflict {
	return m.conflicts
}

// Fetch updates the tracking ref from the remote. A remote without the
// branch yet is not an error.
func (s *Store) Fetch(ctx context.Context) error {
	if !s.HasRemote() {
		return vcs.ErrNoRemote
	}
	start := time.Now()
	refspec := "+" + s.branchRef() + ":" + s.trackingRef()
	err := s.creds.run(ctx, func(env []string) error {
		return s.repo.Fetch(ctx, vcs.FetchOptions{Remote: s.opts.Remote, Refspec: refspec, Env: env})
	})
	if errors.Is(err, vcs.ErrRefNotFound) {
		s.log.Info("remote has no branch yet", zap.String("branch", s.opts.Branch))
		return nil
	}
	if err != nil {
		s.log.Error("fetch failed", zap.Error(err))
		return fmt.Errorf("failed to fetch: %w", err)
	}
	s.log.Debug("fetched", zap.Duration("took", time.Since(start)))
	return nil
}

// Merge compares the branch with the fetched tracking ref and merges.
func (s *Store) Merge(ctx context.Context) (*MergeOutcome, error) {
	ours, err := s.Head(ctx)
	if err != nil {
		return nil, err
	}
	out := &MergeOutcome{Kind: AlreadyUpToDate, Ours: ours}

	theirs, err := s.repo.ResolveRef(ctx, s.trackingRef())
	if errors.Is(err, vcs.ErrRefNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.Theirs = theirs
	if theirs == ours {
		return out, nil
	}
	upToDate, err := s.repo.IsAncestor(ctx, theirs, ours)
	if err != nil {
		return nil, err
	}
	if upToDate {
		return out, nil
	}

	result, err := s.repo.MergeTree(ctx, ours, theirs)
	if err != nil {
		return nil, fmt.Errorf("failed to merge: %w", err)
	}

	out.root, err = s.repo.ReadTree(ctx, result.Tree.String())
	if err != nil {
		return nil, err
	}
	items, err := s.itemEntries(ctx, result.Tree.String())
	if err != nil {
		if errors.Is(err, vcs.ErrPathNotFound) {
			return nil, ErrNoItemsDir
		}
		return nil, err
	}
	out.index = make(map[string]vcs.TreeEntry, len(items))
	for _, e := range items {
		out.index[e.Name] = e
	}

	if result.Clean {
		out.Kind = Merged
		s.log.Info("merged", zap.String("ours", ours.Short()), zap.String("theirs", theirs.Short()))
		return out, nil
	}

	out.Kind = Conflicted
	if out.conflicts, err = s.collectConflicts(ctx, result.Conflicts); err != nil {
		return nil, err
	}
	s.log.Info("merge has conflicts",
		zap.String("ours", ours.Short()), zap.String("theirs", theirs.Short()),
		zap.Int("conflicts", len(out.conflicts)))
	return out, nil
}

// collectConflicts groups stages by path and reads each side's blob.
func (s *Store) collectConflicts(ctx context.Context, stages []vcs.ConflictStage) ([]*Conflict, error) {
	var conflicts []*Conflict
	byPath := make(map[string]*Conflict)
	for _, st := range stages {
		c, ok := byPath[st.Path]
		if !ok {
			ident, isItem := s.IdentFromPath(st.Path)
			if !isItem {
				return nil, fmt.Errorf("conflict outside %s: %s", s.opts.ItemDir, st.Path)
			}
			c = &Conflict{Path: st.Path, Ident: ident}
			byPath[st.Path] = c
			conflicts = append(conflicts, c)
		}

		data, err := s.repo.ReadBlob(ctx, st.Oid)
		if err != nil {
			return nil, err
		}
		entry := &ConflictEntry{Path: st.Path, Oid: st.Oid, Data: data}
		switch st.Stage {
		case vcs.StageAncestor:
			c.Ancestor = entry
		case vcs.StageOurs:
			c.Our = entry
		case vcs.StageTheirs:
			c.Their = entry
		}
	}
	return conflicts, nil
}

// ApplyResolution writes resolving changes into the merge index of a
// conflicted outcome and marks their paths resolved.
func (s *Store) ApplyResolution(ctx context.Context, changes ChangeList, out *MergeOutcome) error {
	if out.Kind != Conflicted {
		return fmt.Errorf("cannot apply resolution to a %s merge", out.Kind)
	}
	if err := s.writeChanges(ctx, out.index, changes); err != nil {
		return err
	}

	resolved := make(map[string]bool, len(changes))
	for _, c := range changes {
		resolved[path.Clean(c.Path)] = true
	}
	remaining := out.conflicts[:0]
	for _, c := range out.conflicts {
		if !resolved[c.Path] {
			remaining = append(remaining, c)
		}
	}
	out.conflicts = remaining
	return nil
}

// CommitMerge writes the merge commit with parents (ours, theirs). It is a
// no-op for an up-to-date outcome.
func (s *Store) CommitMerge(ctx context.Context, out *MergeOutcome) error {
	if out.Kind == AlreadyUpToDate {
		return nil
	}
	if n := len(out.conflicts); n > 0 {
		return fmt.Errorf("%w: %d path(s)", ErrUnresolvedConflicts, n)
	}

	itemTree, err := s.repo.MakeTree(ctx, sortedEntries(out.index))
	if err != nil {
		return err
	}
	root, err := s.repo.MakeTree(ctx, replaceEntry(out.root, vcs.TreeEntry{
		Mode: vcs.ModeTree, Kind: vcs.KindTree, Oid: itemTree, Name: s.opts.ItemDir,
	}))
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("merge %s into %s", out.Theirs.Short(), out.Ours.Short())
	return s.commitTree(ctx, root, []vcs.Oid{out.Ours, out.Theirs}, msg, out.Ours)
}
