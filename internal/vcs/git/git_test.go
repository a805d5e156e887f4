package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fanling-notes/fanling/internal/vcs"
)

var testAuthor = vcs.Signature{Name: "Test User", Email: "test@example.com"}

// setupTestRepo creates an empty bare repository for testing
func setupTestRepo(t *testing.T) *Git {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	g, err := New(filepath.Join(t.TempDir(), "repo.git"), vcs.Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := g.Init(context.Background(), "main"); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return g
}

// commitFile writes a commit containing dir/name=content on top of parent
func commitFile(t *testing.T, g *Git, parent vcs.Oid, dir, name, content string) vcs.Oid {
	t.Helper()
	ctx := context.Background()

	blob, err := g.HashObject(ctx, []byte(content))
	if err != nil {
		t.Fatalf("HashObject() failed: %v", err)
	}

	var inner []vcs.TreeEntry
	if !parent.IsZero() {
		inner, err = g.ReadTree(ctx, parent.String()+":"+dir)
		if err != nil && !errors.Is(err, vcs.ErrPathNotFound) {
			t.Fatalf("ReadTree() failed: %v", err)
		}
	}
	replaced := false
	for i := range inner {
		if inner[i].Name == name {
			inner[i].Oid = blob
			replaced = true
		}
	}
	if !replaced {
		inner = append(inner, vcs.TreeEntry{Mode: vcs.ModeBlob, Kind: vcs.KindBlob, Oid: blob, Name: name})
	}
	sub, err := g.MakeTree(ctx, inner)
	if err != nil {
		t.Fatalf("MakeTree() failed: %v", err)
	}
	root, err := g.MakeTree(ctx, []vcs.TreeEntry{{Mode: vcs.ModeTree, Kind: vcs.KindTree, Oid: sub, Name: dir}})
	if err != nil {
		t.Fatalf("MakeTree() failed: %v", err)
	}

	opts := vcs.CommitOptions{Tree: root, Message: "write " + name, Author: testAuthor}
	if !parent.IsZero() {
		opts.Parents = []vcs.Oid{parent}
	}
	commit, err := g.CommitTree(ctx, opts)
	if err != nil {
		t.Fatalf("CommitTree() failed: %v", err)
	}
	return commit
}

func TestInitAndExists(t *testing.T) {
	g := setupTestRepo(t)

	if !g.Exists() {
		t.Error("Exists() = false after Init")
	}
	if g.Name() != vcs.TypeGit {
		t.Errorf("Name() = %v, want %v", g.Name(), vcs.TypeGit)
	}

	head, err := g.SymbolicRef(context.Background(), "HEAD")
	if err != nil {
		t.Fatalf("SymbolicRef() failed: %v", err)
	}
	if head != "refs/heads/main" {
		t.Errorf("HEAD = %q, want refs/heads/main", head)
	}

	if _, err := g.ResolveRef(context.Background(), "HEAD"); !errors.Is(err, vcs.ErrRefNotFound) {
		t.Errorf("ResolveRef(unborn HEAD) error = %v, want ErrRefNotFound", err)
	}
}

func TestVersion(t *testing.T) {
	g := setupTestRepo(t)

	version, err := g.Version()
	if err != nil {
		t.Fatalf("Version() failed: %v", err)
	}
	if version == "" {
		t.Error("Version() returned empty string")
	}
}

func TestObjectsRoundTrip(t *testing.T) {
	g := setupTestRepo(t)
	ctx := context.Background()

	oid, err := g.HashObject(ctx, []byte("hello\n"))
	if err != nil {
		t.Fatalf("HashObject() failed: %v", err)
	}
	if oid != "ce013625030ba8dba906f756967f9e9ca394464a" {
		t.Errorf("HashObject() = %s, want well-known hello oid", oid)
	}

	data, err := g.ReadBlob(ctx, oid)
	if err != nil {
		t.Fatalf("ReadBlob() failed: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("ReadBlob() = %q", data)
	}

	empty, err := g.MakeTree(ctx, nil)
	if err != nil {
		t.Fatalf("MakeTree(nil) failed: %v", err)
	}
	if empty != emptyTree {
		t.Errorf("MakeTree(nil) = %s, want %s", empty, emptyTree)
	}
}

func TestCommitAndReadPath(t *testing.T) {
	g := setupTestRepo(t)
	ctx := context.Background()

	c1 := commitFile(t, g, "", "items", "a.page", "one")
	if err := g.UpdateRef(ctx, "refs/heads/main", c1, ""); err != nil {
		t.Fatalf("UpdateRef() failed: %v", err)
	}

	head, err := g.ResolveRef(ctx, "HEAD")
	if err != nil {
		t.Fatalf("ResolveRef() failed: %v", err)
	}
	if head != c1 {
		t.Errorf("HEAD = %s, want %s", head, c1)
	}

	data, err := g.ReadPath(ctx, "HEAD", "items/a.page")
	if err != nil {
		t.Fatalf("ReadPath() failed: %v", err)
	}
	if string(data) != "one" {
		t.Errorf("ReadPath() = %q, want %q", data, "one")
	}

	if _, err := g.ReadPath(ctx, "HEAD", "items/missing.page"); !errors.Is(err, vcs.ErrPathNotFound) {
		t.Errorf("ReadPath(missing) error = %v, want ErrPathNotFound", err)
	}

	entries, err := g.ReadTree(ctx, "HEAD:items")
	if err != nil {
		t.Fatalf("ReadTree() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.page" || entries[0].Kind != vcs.KindBlob {
		t.Errorf("ReadTree() = %+v", entries)
	}

	c2 := commitFile(t, g, c1, "items", "b.page", "two")
	ok, err := g.IsAncestor(ctx, c1, c2)
	if err != nil || !ok {
		t.Errorf("IsAncestor(c1, c2) = %v, %v; want true", ok, err)
	}
	ok, err = g.IsAncestor(ctx, c2, c1)
	if err != nil || ok {
		t.Errorf("IsAncestor(c2, c1) = %v, %v; want false", ok, err)
	}

	changes, err := g.ChangedPaths(ctx, c1, c2, "items")
	if err != nil {
		t.Fatalf("ChangedPaths() failed: %v", err)
	}
	want := []vcs.PathChange{{Status: vcs.ChangeAdded, Path: "items/b.page"}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("ChangedPaths() mismatch (-want +got):\n%s", diff)
	}
}

func TestReadPathOnlyMissingIsNotFound(t *testing.T) {
	g := setupTestRepo(t)
	ctx := context.Background()

	c1 := commitFile(t, g, "", "items", "a.page", "one")
	if err := g.UpdateRef(ctx, "refs/heads/main", c1, ""); err != nil {
		t.Fatalf("UpdateRef() failed: %v", err)
	}

	if _, err := g.ReadTree(ctx, "HEAD:nothing"); !errors.Is(err, vcs.ErrPathNotFound) {
		t.Errorf("ReadTree(missing) error = %v, want ErrPathNotFound", err)
	}

	// a tree read as a blob exits 128 but is present
	_, err := g.ReadPath(ctx, "HEAD", "items")
	if err == nil || errors.Is(err, vcs.ErrPathNotFound) {
		t.Errorf("ReadPath(tree) error = %v, want a non-ErrPathNotFound error", err)
	}

	if err := os.Remove(filepath.Join(g.Path(), "HEAD")); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	_, err = g.ReadPath(ctx, "HEAD", "items/a.page")
	if err == nil || errors.Is(err, vcs.ErrPathNotFound) {
		t.Errorf("ReadPath(broken repo) error = %v, want a non-ErrPathNotFound error", err)
	}
	_, err = g.ReadTree(ctx, "HEAD:items")
	if err == nil || errors.Is(err, vcs.ErrPathNotFound) {
		t.Errorf("ReadTree(broken repo) error = %v, want a non-ErrPathNotFound error", err)
	}
}

func TestMissingObject(t *testing.T) {
	tests := []struct {
		name string
		res  vcs.Result
		want bool
	}{
		{"missing path", vcs.Result{ExitCode: 128, Stderr: []byte("fatal: path 'items/x' does not exist in 'HEAD'\n")}, true},
		{"bad name", vcs.Result{ExitCode: 128, Stderr: []byte("fatal: Not a valid object name HEAD:items\n")}, true},
		{"not a tree", vcs.Result{ExitCode: 128, Stderr: []byte("fatal: not a tree object\n")}, true},
		{"not a repo", vcs.Result{ExitCode: 128, Stderr: []byte("fatal: not a git repository: 'repo.git'\n")}, false},
		{"corrupt", vcs.Result{ExitCode: 128, Stderr: []byte("error: inflate: data stream error\nfatal: loose object 1234 is corrupt\n")}, false},
		{"other exit", vcs.Result{ExitCode: 1, Stderr: []byte("does not exist")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := missingObject(tt.res); got != tt.want {
				t.Errorf("missingObject() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeTreeClean(t *testing.T) {
	g := setupTestRepo(t)
	ctx := context.Background()

	base := commitFile(t, g, "", "items", "a.page", "one")
	ours := commitFile(t, g, base, "items", "b.page", "ours")
	theirs := commitFile(t, g, base, "items", "c.page", "theirs")

	res, err := g.MergeTree(ctx, ours, theirs)
	if err != nil {
		t.Fatalf("MergeTree() failed: %v", err)
	}
	if !res.Clean {
		t.Fatalf("MergeTree() not clean: %+v", res.Conflicts)
	}

	entries, err := g.ReadTree(ctx, res.Tree.String()+":items")
	if err != nil {
		t.Fatalf("ReadTree() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("merged tree has %d entries, want 3", len(entries))
	}
}

func TestMergeTreeConflict(t *testing.T) {
	g := setupTestRepo(t)
	ctx := context.Background()

	base := commitFile(t, g, "", "items", "a.page", "text: aaaa\n")
	ours := commitFile(t, g, base, "items", "a.page", "text: cccc\n")
	theirs := commitFile(t, g, base, "items", "a.page", "text: bbbb\n")

	res, err := g.MergeTree(ctx, ours, theirs)
	if err != nil {
		t.Fatalf("MergeTree() failed: %v", err)
	}
	if res.Clean {
		t.Fatal("MergeTree() reported clean merge for conflicting edits")
	}
	if len(res.Conflicts) != 3 {
		t.Fatalf("got %d conflict stages, want 3: %+v", len(res.Conflicts), res.Conflicts)
	}

	wantContent := map[int]string{
		vcs.StageAncestor: "text: aaaa\n",
		vcs.StageOurs:     "text: cccc\n",
		vcs.StageTheirs:   "text: bbbb\n",
	}
	for _, c := range res.Conflicts {
		if c.Path != "items/a.page" {
			t.Errorf("conflict path = %q", c.Path)
		}
		data, err := g.ReadBlob(ctx, c.Oid)
		if err != nil {
			t.Fatalf("ReadBlob() failed: %v", err)
		}
		if string(data) != wantContent[c.Stage] {
			t.Errorf("stage %d = %q, want %q", c.Stage, data, wantContent[c.Stage])
		}
	}
}

func TestParseMergeTree(t *testing.T) {
	out := "aaaa\x00100644 1111 1\titems/x.page\x00100644 2222 2\titems/x.page\x00\x00Auto-merging items/x.page\x00"
	res, err := parseMergeTree([]byte(out))
	if err != nil {
		t.Fatalf("parseMergeTree() failed: %v", err)
	}
	want := &vcs.MergeTreeResult{
		Tree: "aaaa",
		Conflicts: []vcs.ConflictStage{
			{Mode: "100644", Oid: "1111", Stage: 1, Path: "items/x.page"},
			{Mode: "100644", Oid: "2222", Stage: 2, Path: "items/x.page"},
		},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("parseMergeTree() mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchAndPush(t *testing.T) {
	origin := setupTestRepo(t)
	ctx := context.Background()

	c1 := commitFile(t, origin, "", "items", "a.page", "one")
	if err := origin.UpdateRef(ctx, "refs/heads/main", c1, ""); err != nil {
		t.Fatalf("UpdateRef() failed: %v", err)
	}

	clone, err := New(filepath.Join(t.TempDir(), "clone.git"), vcs.Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := clone.Clone(ctx, vcs.CloneOptions{URL: origin.Path()}); err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}
	url, err := clone.RemoteURL(ctx, "origin")
	if err != nil {
		t.Fatalf("RemoteURL() failed: %v", err)
	}
	if url != origin.Path() {
		t.Errorf("RemoteURL() = %q, want %q", url, origin.Path())
	}

	c2 := commitFile(t, clone, c1, "items", "b.page", "two")
	if err := clone.UpdateRef(ctx, "refs/heads/main", c2, c1); err != nil {
		t.Fatalf("UpdateRef() failed: %v", err)
	}
	if err := clone.Push(ctx, vcs.PushOptions{Refspec: "refs/heads/main:refs/heads/main"}); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}

	got, err := origin.ResolveRef(ctx, "refs/heads/main")
	if err != nil {
		t.Fatalf("ResolveRef() failed: %v", err)
	}
	if got != c2 {
		t.Errorf("origin main = %s, want %s", got, c2)
	}

	// A diverging commit in origin is fetched into the tracking ref.
	c3 := commitFile(t, origin, c2, "items", "c.page", "three")
	if err := origin.UpdateRef(ctx, "refs/heads/main", c3, c2); err != nil {
		t.Fatalf("UpdateRef() failed: %v", err)
	}
	if err := clone.Fetch(ctx, vcs.FetchOptions{Refspec: "+refs/heads/main:refs/remotes/origin/main"}); err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	tracking, err := clone.ResolveRef(ctx, "refs/remotes/origin/main")
	if err != nil {
		t.Fatalf("ResolveRef() failed: %v", err)
	}
	if tracking != c3 {
		t.Errorf("tracking ref = %s, want %s", tracking, c3)
	}

	// A push that would lose c3 is rejected.
	c4 := commitFile(t, clone, c2, "items", "d.page", "four")
	if err := clone.UpdateRef(ctx, "refs/heads/main", c4, ""); err != nil {
		t.Fatalf("UpdateRef() failed: %v", err)
	}
	err = clone.Push(ctx, vcs.PushOptions{Refspec: "refs/heads/main:refs/heads/main"})
	if !errors.Is(err, vcs.ErrPushRejected) {
		t.Errorf("Push() error = %v, want ErrPushRejected", err)
	}
}

func TestFetchMissingBranch(t *testing.T) {
	origin := setupTestRepo(t)
	clone := setupTestRepo(t)
	ctx := context.Background()

	if err := clone.SetRemote(ctx, "origin", origin.Path()); err != nil {
		t.Fatalf("SetRemote() failed: %v", err)
	}
	err := clone.Fetch(ctx, vcs.FetchOptions{Refspec: "+refs/heads/main:refs/remotes/origin/main"})
	if !errors.Is(err, vcs.ErrRefNotFound) {
		t.Errorf("Fetch() error = %v, want ErrRefNotFound", err)
	}
}

func TestRemoteURLMissing(t *testing.T) {
	g := setupTestRepo(t)

	if _, err := g.RemoteURL(context.Background(), "origin"); !errors.Is(err, vcs.ErrNoRemote) {
		t.Errorf("RemoteURL() error = %v, want ErrNoRemote", err)
	}
}
