// Package vcs defines the version-control plumbing that the content store is
// built on.
//
// The store never touches a working tree. It reads and writes objects, trees,
// commits and refs of a bare repository directly, so the contract here is the
// plumbing layer of a VCS rather than its porcelain:
//   - Object storage (blobs and trees)
//   - Commit creation and reference updates
//   - Three-way tree merges that report conflicting stages
//   - Fetch and push against a single remote
//
// # Usage
//
//	b, err := vcs.Open(vcs.TypeGit, "/data/repo", vcs.Options{})
//	if err != nil {
//	    return err
//	}
//	oid, err := b.HashObject(ctx, []byte("hello"))
//
// # Implementations
//
//   - internal/vcs/git: git implementation driving the git binary
package vcs

import (
	"context"
	"strings"
)

// Type represents the VCS backend type
type Type string

const (
	// TypeGit indicates a git repository driven through the git binary
	TypeGit Type = "git"
)

// String returns the string representation of the VCS type
func (t Type) String() string {
	return string(t)
}

// Oid is a content-addressed object id in hex form.
type Oid string

// ZeroOid is the all-zero id used by update-ref to mean "must not exist".
const ZeroOid Oid = "0000000000000000000000000000000000000000"

// IsZero reports whether the id is unset or all zeroes.
func (o Oid) IsZero() bool {
	return o == "" || strings.Trim(string(o), "0") == ""
}

// String returns the hex form.
func (o Oid) String() string {
	return string(o)
}

// Short returns an abbreviated id for log messages.
func (o Oid) Short() string {
	if len(o) > 8 {
		return string(o[:8])
	}
	return string(o)
}

// Backend defines the plumbing operations needed by the content store.
// Every method that may block on disk or network takes a context.
type Backend interface {
	// ===================
	// Identity
	// ===================

	// Name returns the VCS type
	Name() Type

	// Path returns the repository directory
	Path() string

	// Version returns the VCS binary version string
	Version() (string, error)

	// ===================
	// Repository lifecycle
	// ===================

	// Exists returns true if a repository is present at Path
	Exists() bool

	// Init creates an empty bare repository whose HEAD names branch
	Init(ctx context.Context, branch string) error

	// Clone creates a bare clone at Path
	Clone(ctx context.Context, opts CloneOptions) error

	// ===================
	// Objects
	// ===================

	// HashObject stores data as a blob and returns its id
	HashObject(ctx context.Context, data []byte) (Oid, error)

	// ReadBlob returns the content of a blob
	ReadBlob(ctx context.Context, oid Oid) ([]byte, error)

	// ReadPath returns the blob at path inside treeish.
	// Returns ErrPathNotFound if there is no such path.
	ReadPath(ctx context.Context, treeish, path string) ([]byte, error)

	// ReadTree lists the entries of a single tree level
	ReadTree(ctx context.Context, treeish string) ([]TreeEntry, error)

	// MakeTree writes a tree object from entries
	MakeTree(ctx context.Context, entries []TreeEntry) (Oid, error)

	// CommitTree writes a commit object and returns its id
	CommitTree(ctx context.Context, opts CommitOptions) (Oid, error)

	// ===================
	// References
	// ===================

	// ResolveRef resolves a ref to a commit id.
	// Returns ErrRefNotFound if the ref does not resolve to a commit.
	ResolveRef(ctx context.Context, ref string) (Oid, error)

	// UpdateRef points ref at newOid. If oldOid is non-empty the update
	// only succeeds while ref still points at oldOid.
	UpdateRef(ctx context.Context, ref string, newOid, oldOid Oid) error

	// SymbolicRef returns the full ref name HEAD points at.
	// Returns ErrDetached if HEAD is not symbolic.
	SymbolicRef(ctx context.Context, name string) (string, error)

	// SetSymbolicRef points a symbolic ref such as HEAD at target
	SetSymbolicRef(ctx context.Context, name, target string) error

	// IsAncestor returns true if a is an ancestor of (or equal to) b
	IsAncestor(ctx context.Context, a, b Oid) (bool, error)

	// ===================
	// Merge
	// ===================

	// MergeTree performs a three-way merge of two commits without
	// touching any ref and reports the result tree and conflicts.
	MergeTree(ctx context.Context, ours, theirs Oid) (*MergeTreeResult, error)

	// ChangedPaths lists paths under prefix that differ between two commits
	ChangedPaths(ctx context.Context, from, to Oid, prefix string) ([]PathChange, error)

	// ===================
	// Remote Operations
	// ===================

	// RemoteURL returns the URL configured for a remote.
	// Returns ErrNoRemote if the remote is not configured.
	RemoteURL(ctx context.Context, remote string) (string, error)

	// SetRemote adds or updates a remote
	SetRemote(ctx context.Context, remote, url string) error

	// Fetch fetches a refspec from a remote
	Fetch(ctx context.Context, opts FetchOptions) error

	// Push pushes a refspec to a remote
	Push(ctx context.Context, opts PushOptions) error

	// ===================
	// Raw Command Execution
	// ===================

	// Exec executes a raw VCS command (escape hatch).
	// Use sparingly; prefer interface methods.
	Exec(ctx context.Context, args ...string) ([]byte, error)
}

// ===================
// Supporting Types
// ===================

// Object kinds as reported in tree listings.
const (
	KindBlob = "blob"
	KindTree = "tree"
)

// File modes used in tree entries.
const (
	ModeBlob = "100644"
	ModeTree = "040000"
)

// TreeEntry is one entry of a tree object.
type TreeEntry struct {
	// Mode is the octal file mode ("100644", "040000", ...)
	Mode string

	// Kind is the object kind ("blob" or "tree")
	Kind string

	// Oid is the object id
	Oid Oid

	// Name is the entry name (a single path component)
	Name string
}

// Signature identifies the author and committer of a commit.
type Signature struct {
	Name  string
	Email string
}

// CommitOptions configures a commit object
type CommitOptions struct {
	// Tree is the root tree of the commit (required)
	Tree Oid

	// Parents are the parent commits, in order
	Parents []Oid

	// Message is the commit message (required)
	Message string

	// Author is used as both author and committer
	Author Signature
}

// CloneOptions configures a clone operation
type CloneOptions struct {
	// URL is the repository to clone (required)
	URL string

	// Env carries extra environment for credential handling
	Env []string
}

// FetchOptions configures a fetch operation
type FetchOptions struct {
	// Remote is the remote name. Empty uses "origin".
	Remote string

	// Refspec is the refspec to fetch
	Refspec string

	// Env carries extra environment for credential handling
	Env []string
}

// PushOptions configures a push operation
type PushOptions struct {
	// Remote is the remote name. Empty uses "origin".
	Remote string

	// Refspec is the refspec to push
	Refspec string

	// Force enables force push (use with caution!)
	Force bool

	// Env carries extra environment for credential handling
	Env []string
}

// ConflictStage is one side of a conflicted path in a merge result.
type ConflictStage struct {
	// Mode is the file mode of this side
	Mode string

	// Oid is the blob id of this side
	Oid Oid

	// Stage is 1 for the ancestor, 2 for ours and 3 for theirs
	Stage int

	// Path is the full path inside the tree
	Path string
}

// Merge stages.
const (
	StageAncestor = 1
	StageOurs     = 2
	StageTheirs   = 3
)

// MergeTreeResult describes the outcome of MergeTree.
type MergeTreeResult struct {
	// Tree is the merged tree. When Clean is false it contains
	// conflict markers for conflicted paths and must not be committed as is.
	Tree Oid

	// Clean is true if the merge had no conflicts
	Clean bool

	// Conflicts lists every conflicted stage, grouped by path in order
	Conflicts []ConflictStage
}

// ChangeStatus is the kind of change reported by ChangedPaths.
type ChangeStatus string

const (
	ChangeAdded    ChangeStatus = "A"
	ChangeModified ChangeStatus = "M"
	ChangeDeleted  ChangeStatus = "D"
)

// PathChange is one changed path between two commits.
type PathChange struct {
	Status ChangeStatus
	Path   string
}

// Options configures a backend instance.
type Options struct {
	// Env is appended to the environment of every command
	Env []string
}
