// Package store is the versioned content store for items.
//
// Items live as blobs under a single subdirectory of a bare git repository,
// one blob per item at <item dir>/<ident>.page. Every mutation becomes its
// own commit on the configured branch. The store syncs with one remote peer
// by fetching, merging with a three-way tree merge and pushing.
package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"

	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/vcs"
	_ "github.com/fanling-notes/fanling/internal/vcs/git" // registers the git backend
)

// Store errors.
var (
	// ErrNoItemsDir is returned when the item subdirectory cannot be found
	// in the tree being written.
	ErrNoItemsDir = errors.New("no items dir")

	// ErrUnknownIdent is returned when deleting an ident that was never
	// added or read in this session.
	ErrUnknownIdent = errors.New("ident not known")

	// ErrUnresolvedConflicts is returned when committing a merge that
	// still has conflicts.
	ErrUnresolvedConflicts = errors.New("merge has unresolved conflicts")

	// ErrPendingChanges is returned by Close if staged changes were never
	// flushed.
	ErrPendingChanges = errors.New("staged changes were never committed")
)

// ActionRequired tells the caller what to do after Open.
type ActionRequired int

const (
	// NoAction means a fresh empty repository was created
	NoAction ActionRequired = iota
	// LoadAll means the repository was cloned and every item must be ingested
	LoadAll
	// ProcessChanges means an existing repository was opened and should be
	// pulled if there is a remote
	ProcessChanges
)

func (a ActionRequired) String() string {
	switch a {
	case NoAction:
		return "no-action"
	case LoadAll:
		return "load-all"
	case ProcessChanges:
		return "process-changes"
	default:
		return "unknown"
	}
}

// itemPathPattern matches item blob names and captures the ident.
var itemPathPattern = regexp.MustCompile(`^([^.]*)[.](item|page)$`)

// Store is the content store.
type Store struct {
	opts  Options
	repo  vcs.Backend
	log   *zap.Logger
	creds *credentials

	// known holds idents added or read during this session
	known map[string]struct{}

	// pending holds staged changes not yet committed
	pending ChangeList

	needsPush bool
}

// Open opens the repository at opts.Path, cloning or initialising it if it
// does not exist, and heals its structure.
func Open(ctx context.Context, opts Options) (*Store, ActionRequired, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, NoAction, err
	}

	repo, err := vcs.Open(vcs.TypeGit, opts.Path, vcs.Options{})
	if err != nil {
		return nil, NoAction, err
	}

	s := &Store{
		opts:  opts,
		repo:  repo,
		log:   opts.Logger.Named("store"),
		creds: newCredentials(opts),
		known: make(map[string]struct{}),
	}

	var action ActionRequired
	switch {
	case repo.Exists():
		action = ProcessChanges
		if opts.URL != "" {
			if err := repo.SetRemote(ctx, opts.Remote, opts.URL); err != nil {
				return nil, action, fmt.Errorf("failed to configure remote: %w", err)
			}
		}
	case opts.URL != "":
		action = LoadAll
		if err := s.clone(ctx); err != nil {
			return nil, action, err
		}
	default:
		action = NoAction
		if err := repo.Init(ctx, opts.Branch); err != nil {
			return nil, action, fmt.Errorf("failed to init repository: %w", err)
		}
	}
	s.log.Info("repository opened",
		zap.String("path", repo.Path()), zap.Stringer("action", action))

	if err := s.ensureStructure(ctx); err != nil {
		return nil, action, err
	}
	if err := s.initNeedsPush(ctx); err != nil {
		return nil, action, err
	}
	return s, action, nil
}

func (s *Store) clone(ctx context.Context) error {
	err := s.creds.run(ctx, func(env []string) error {
		return s.repo.Clone(ctx, vcs.CloneOptions{URL: s.opts.URL, Env: env})
	})
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", s.opts.URL, err)
	}
	if err := s.repo.SetRemote(ctx, s.opts.Remote, s.opts.URL); err != nil {
		return fmt.Errorf("failed to configure remote: %w", err)
	}

	// A bare clone has no tracking refs; record where the remote was.
	head, err := s.repo.ResolveRef(ctx, s.branchRef())
	if errors.Is(err, vcs.ErrRefNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.repo.UpdateRef(ctx, s.trackingRef(), head, "")
}

// Close checks that nothing is left staged.
func (s *Store) Close() error {
	if len(s.pending) > 0 {
		return fmt.Errorf("%w: %d change(s)", ErrPendingChanges, len(s.pending))
	}
	return nil
}

// Path returns the repository directory.
func (s *Store) Path() string {
	return s.repo.Path()
}

// HasRemote reports whether a remote URL is configured.
func (s *Store) HasRemote() bool {
	return s.opts.URL != ""
}

// Head returns the commit the branch points at.
func (s *Store) Head(ctx context.Context) (vcs.Oid, error) {
	return s.repo.ResolveRef(ctx, s.branchRef())
}

func (s *Store) branchRef() string {
	return "refs/heads/" + s.opts.Branch
}

func (s *Store) trackingRef() string {
	return "refs/remotes/" + s.opts.Remote + "/" + s.opts.Branch
}

// PathFor returns the repository path of an item.
func (s *Store) PathFor(ident string) string {
	return path.Join(s.opts.ItemDir, ident+".page")
}

// IdentFromPath extracts the ident from an item path, or returns false if
// the path is not an item path.
func (s *Store) IdentFromPath(p string) (string, bool) {
	dir, name := path.Split(p)
	if path.Clean(dir) != s.opts.ItemDir {
		return "", false
	}
	return identFromName(name)
}

func identFromName(name string) (string, bool) {
	m := itemPathPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ===================
// Known idents
// ===================

// MakeKnown records that ident exists in this session.
func (s *Store) MakeKnown(ident string) {
	s.known[ident] = struct{}{}
}

// Known reports whether ident was seen in this session.
func (s *Store) Known(ident string) bool {
	_, ok := s.known[ident]
	return ok
}

// ClearKnown forgets every known ident, before a full rebuild.
func (s *Store) ClearKnown() {
	s.known = make(map[string]struct{})
}
