package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// EntryDescr describes one item blob in the head tree.
type EntryDescr struct {
	Ident string
	Path  string
	Oid   vcs.Oid
}

// itemEntries lists the item dir of a commit or tree.
func (s *Store) itemEntries(ctx context.Context, treeish string) ([]vcs.TreeEntry, error) {
	return s.repo.ReadTree(ctx, treeish+":"+s.opts.ItemDir)
}

// commitTree writes a commit for tree and moves the branch to it. When
// old is non-empty the branch must still point at old.
func (s *Store) commitTree(ctx context.Context, tree vcs.Oid, parents []vcs.Oid, message string, old vcs.Oid) error {
	commit, err := s.repo.CommitTree(ctx, vcs.CommitOptions{
		Tree:    tree,
		Parents: parents,
		Message: message,
		Author:  vcs.Signature{Name: s.opts.Name, Email: s.opts.Email},
	})
	if err != nil {
		return err
	}
	if err := s.repo.UpdateRef(ctx, s.branchRef(), commit, old); err != nil {
		return err
	}
	s.markLocalCommit()
	s.log.Debug("committed", zap.String("commit", commit.Short()), zap.Int("parents", len(parents)))
	return nil
}

// ===================
// Staging
// ===================

// Stage queues a change without committing it.
func (s *Store) Stage(c Change) {
	s.pending = append(s.pending, c)
}

// Flush commits every staged change as a single commit.
func (s *Store) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	changes := s.pending
	s.pending = nil
	return s.ApplyChanges(ctx, changes)
}

// ApplyChanges writes changes into the item dir of the head tree and
// commits the result on the branch. Payload ids are assigned here.
func (s *Store) ApplyChanges(ctx context.Context, changes ChangeList) error {
	head, err := s.Head(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve head: %w", err)
	}

	root, err := s.repo.ReadTree(ctx, head.String())
	if err != nil {
		return fmt.Errorf("failed to read head tree: %w", err)
	}
	items, err := s.itemEntries(ctx, head.String())
	if err != nil {
		if errors.Is(err, vcs.ErrPathNotFound) {
			return ErrNoItemsDir
		}
		return err
	}

	index := make(map[string]vcs.TreeEntry, len(items))
	for _, e := range items {
		index[e.Name] = e
	}
	if err := s.writeChanges(ctx, index, changes); err != nil {
		return err
	}

	itemTree, err := s.repo.MakeTree(ctx, sortedEntries(index))
	if err != nil {
		return err
	}
	newRoot, err := s.repo.MakeTree(ctx, replaceEntry(root, vcs.TreeEntry{
		Mode: vcs.ModeTree, Kind: vcs.KindTree, Oid: itemTree, Name: s.opts.ItemDir,
	}))
	if err != nil {
		return err
	}
	return s.commitTree(ctx, newRoot, []vcs.Oid{head}, changes.Message(), head)
}

// writeChanges applies changes to an item dir listing keyed by file name,
// hashing payloads as it goes.
func (s *Store) writeChanges(ctx context.Context, index map[string]vcs.TreeEntry, changes ChangeList) error {
	for i := range changes {
		c := &changes[i]
		name, err := s.entryName(c.Path)
		if err != nil {
			return err
		}
		switch {
		case c.Op.hasPayload():
			oid, err := s.repo.HashObject(ctx, c.Data)
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", c.Path, err)
			}
			c.Oid = oid
			index[name] = vcs.TreeEntry{Mode: vcs.ModeBlob, Kind: vcs.KindBlob, Oid: oid, Name: name}
		case c.Op == OpDelete:
			if _, ok := index[name]; !ok {
				return fmt.Errorf("cannot delete %s: %w", c.Path, vcs.ErrPathNotFound)
			}
			delete(index, name)
		default:
			return fmt.Errorf("cannot apply %s change to %s", c.Op, c.Path)
		}
	}
	return nil
}

// entryName checks that p lies directly in the item dir and returns its name.
func (s *Store) entryName(p string) (string, error) {
	dir, name := path.Split(p)
	if path.Clean(dir) != s.opts.ItemDir || name == "" {
		return "", fmt.Errorf("%s is outside %s: %w", p, s.opts.ItemDir, ErrNoItemsDir)
	}
	return name, nil
}

func sortedEntries(index map[string]vcs.TreeEntry) []vcs.TreeEntry {
	entries := make([]vcs.TreeEntry, 0, len(index))
	for _, e := range index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// ===================
// Item operations
// ===================

// Put stages a change for ident and commits it immediately.
func (s *Store) Put(ctx context.Context, ident string, data []byte, op Op) error {
	s.Stage(Change{
		Op:          op,
		Path:        s.PathFor(ident),
		Description: op.String() + " " + ident,
		Data:        data,
	})
	if err := s.Flush(ctx); err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, ident, err)
	}
	return nil
}

// Add writes a new item and records it as known.
func (s *Store) Add(ctx context.Context, ident string, data []byte) error {
	if err := s.Put(ctx, ident, data, OpAdd); err != nil {
		return err
	}
	s.MakeKnown(ident)
	return nil
}

// Modify rewrites an existing item.
func (s *Store) Modify(ctx context.Context, ident string, data []byte) error {
	return s.Put(ctx, ident, data, OpModify)
}

// Fix rewrites an item whose stored form was repaired on load.
func (s *Store) Fix(ctx context.Context, ident string, data []byte) error {
	return s.Put(ctx, ident, data, OpFix)
}

// Delete removes an item. The ident must be known in this session.
func (s *Store) Delete(ctx context.Context, ident string) error {
	if !s.Known(ident) {
		return fmt.Errorf("cannot delete %s: %w", ident, ErrUnknownIdent)
	}
	if err := s.Put(ctx, ident, nil, OpDelete); err != nil {
		return err
	}
	delete(s.known, ident)
	return nil
}

// Get reads an item from the head commit and records it as known.
// A missing item is vcs.ErrPathNotFound.
func (s *Store) Get(ctx context.Context, ident string) ([]byte, error) {
	data, err := s.repo.ReadPath(ctx, s.branchRef(), s.PathFor(ident))
	if err != nil {
		return nil, err
	}
	s.MakeKnown(ident)
	return data, nil
}

// Has reports whether the head commit contains ident.
func (s *Store) Has(ctx context.Context, ident string) (bool, error) {
	_, err := s.repo.ReadPath(ctx, s.branchRef(), s.PathFor(ident))
	if errors.Is(err, vcs.ErrPathNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListAll enumerates the item blobs of the head commit.
func (s *Store) ListAll(ctx context.Context) ([]EntryDescr, error) {
	entries, err := s.itemEntries(ctx, s.branchRef())
	if err != nil {
		if errors.Is(err, vcs.ErrPathNotFound) {
			return nil, ErrNoItemsDir
		}
		return nil, err
	}

	var out []EntryDescr
	for _, e := range entries {
		if e.Kind != vcs.KindBlob {
			continue
		}
		ident, ok := identFromName(e.Name)
		if !ok {
			continue
		}
		out = append(out, EntryDescr{
			Ident: ident,
			Path:  path.Join(s.opts.ItemDir, e.Name),
			Oid:   e.Oid,
		})
	}
	return out, nil
}

// ReadEntry returns the blob behind an entry.
func (s *Store) ReadEntry(ctx context.Context, e EntryDescr) ([]byte, error) {
	return s.repo.ReadBlob(ctx, e.Oid)
}

// IdentChange is an item changed between two commits.
type IdentChange struct {
	Ident  string
	Status vcs.ChangeStatus
}

// ChangedSince lists items that differ between old and the head commit.
// Paths in the item dir that are not item files are skipped.
func (s *Store) ChangedSince(ctx context.Context, old vcs.Oid) ([]IdentChange, error) {
	head, err := s.Head(ctx)
	if err != nil {
		return nil, err
	}
	if head == old {
		return nil, nil
	}
	changes, err := s.repo.ChangedPaths(ctx, old, head, s.opts.ItemDir)
	if err != nil {
		return nil, err
	}
	var out []IdentChange
	for _, c := range changes {
		if ident, ok := s.IdentFromPath(c.Path); ok {
			out = append(out, IdentChange{Ident: ident, Status: c.Status})
		}
	}
	return out, nil
}
