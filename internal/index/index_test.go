package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "index.db")
}

// openTestDB opens an index and closes it at cleanup
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func entry(ident, parent string) Entry {
	return Entry{
		Ident:    ident,
		TypeName: "Simple",
		Name:     "name of " + ident,
		Open:     true,
		Ready:    true,
		Parent:   parent,
		Classify: "normal",
	}
}

func idents[E interface{ *Entry | *HierEntry }](entries []E) []string {
	var out []string
	for _, e := range entries {
		switch v := any(e).(type) {
		case *Entry:
			out = append(out, v.Ident)
		case *HierEntry:
			out = append(out, v.Ident)
		}
	}
	return out
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	for _, table := range []string{"global", "item"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
	// Idempotent.
	if err := db.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

func TestGlobalCounterSurvivesReopen(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	g, err := db.ReadGlobal()
	if err != nil {
		t.Fatalf("ReadGlobal() failed: %v", err)
	}
	if g.LastIdent != 0 {
		t.Errorf("initial LastIdent = %d, want 0", g.LastIdent)
	}
	if err := db.WriteLastIdent(7); err != nil {
		t.Fatalf("WriteLastIdent() failed: %v", err)
	}
	if err := db.WritePrefix(context.Background(), "ab"); err != nil {
		t.Fatalf("WritePrefix() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db, err = Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	g, err = db.ReadGlobal()
	if err != nil {
		t.Fatalf("ReadGlobal() failed: %v", err)
	}
	if diff := cmp.Diff(Global{Prefix: "ab", LastIdent: 7}, g); diff != "" {
		t.Errorf("ReadGlobal() mismatch (-want +got):\n%s", diff)
	}
}

func TestAddGetUpdateDelete(t *testing.T) {
	db := openTestDB(t)

	e := entry("aaa-a2", "")
	e.Special = 0b10
	if err := db.Add(e); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := db.Add(e); err == nil {
		t.Error("Add() of a duplicate ident succeeded, want error")
	}

	got, err := db.Get("aaa-a2")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if diff := cmp.Diff(e, *got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	e.Name = "renamed"
	e.Open = false
	e.Parent = "root-a1"
	if err := db.Update(e); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	got, _ = db.Get("aaa-a2")
	if diff := cmp.Diff(e, *got); diff != "" {
		t.Errorf("Get() after Update mismatch (-want +got):\n%s", diff)
	}

	if err := db.Update(entry("missing", "")); !errors.Is(err, ErrRowCount) {
		t.Errorf("Update() of missing row error = %v, want ErrRowCount", err)
	}
	if err := db.Delete("aaa-a2"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := db.Delete("aaa-a2"); !errors.Is(err, ErrRowCount) {
		t.Errorf("second Delete() error = %v, want ErrRowCount", err)
	}
	if _, err := db.Get("aaa-a2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestUpsert(t *testing.T) {
	db := openTestDB(t)
	e := entry("x-1", "")
	if err := db.Upsert(e); err != nil {
		t.Fatalf("Upsert() insert failed: %v", err)
	}
	e.Name = "changed"
	if err := db.Upsert(e); err != nil {
		t.Fatalf("Upsert() update failed: %v", err)
	}
	got, err := db.Get("x-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "changed" {
		t.Errorf("Name = %q, want %q", got.Name, "changed")
	}
	n, err := db.Count(context.Background())
	if err != nil || n != 1 {
		t.Errorf("Count() = %d, %v; want 1", n, err)
	}
}

func TestBySpecialKind(t *testing.T) {
	db := openTestDB(t)

	parent := entry("p-1", "")
	parent.Special = 1 << 0
	ctxItem := entry("c-1", "")
	ctxItem.Special = 1 << 1
	both := entry("b-1", "")
	both.Special = 1<<0 | 1<<1
	closed := entry("z-1", "")
	closed.Special = 1 << 1
	closed.Open = false
	for _, e := range []Entry{parent, ctxItem, both, closed, entry("plain-1", "")} {
		if err := db.Add(e); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	parents, err := db.BySpecialKind(0)
	if err != nil {
		t.Fatalf("BySpecialKind(0) failed: %v", err)
	}
	if diff := cmp.Diff([]string{"b-1", "p-1"}, idents(parents)); diff != "" {
		t.Errorf("BySpecialKind(0) mismatch (-want +got):\n%s", diff)
	}

	contexts, err := db.BySpecialKind(1)
	if err != nil {
		t.Fatalf("BySpecialKind(1) failed: %v", err)
	}
	if diff := cmp.Diff([]string{"b-1", "c-1"}, idents(contexts)); diff != "" {
		t.Errorf("BySpecialKind(1) mismatch (-want +got):\n%s", diff)
	}
}

func TestChildrenAndOpenItems(t *testing.T) {
	db := openTestDB(t)
	archived := entry("a-2", "a-1")
	archived.Classify = "archived"
	for _, e := range []Entry{entry("a-1", ""), archived, entry("a-3", "a-1"), entry("b-1", "")} {
		if err := db.Add(e); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	children, err := db.Children("a-1")
	if err != nil {
		t.Fatalf("Children() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a-2", "a-3"}, idents(children)); diff != "" {
		t.Errorf("Children() mismatch (-want +got):\n%s", diff)
	}

	open, err := db.OpenItems(context.Background())
	if err != nil {
		t.Fatalf("OpenItems() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a-1", "a-3", "b-1"}, idents(open)); diff != "" {
		t.Errorf("OpenItems() mismatch (-want +got):\n%s", diff)
	}
}

func TestHierarchical(t *testing.T) {
	db := openTestDB(t)

	closedParent := entry("q-1", "")
	closedParent.Open = false
	for _, e := range []Entry{
		entry("r-1", ""),
		entry("r-1a", ""),
		entry("c-1", "r-1"),
		entry("g-1", "c-1"),
		entry("c-2", "r-1"),
		entry("orphan", "gone"),
		closedParent,
		entry("q-child", "q-1"),
	} {
		if err := db.Add(e); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	all, err := db.Hierarchical(false)
	if err != nil {
		t.Fatalf("Hierarchical(false) failed: %v", err)
	}
	type lv struct {
		Ident string
		Level int
	}
	var got []lv
	for _, h := range all {
		got = append(got, lv{h.Ident, h.Level})
	}
	want := []lv{
		{"orphan", 0},
		{"q-1", 0},
		{"q-child", 1},
		{"r-1", 0},
		{"c-1", 1},
		{"g-1", 2},
		{"c-2", 1},
		{"r-1a", 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Hierarchical(false) mismatch (-want +got):\n%s", diff)
	}

	open, err := db.Hierarchical(true)
	if err != nil {
		t.Fatalf("Hierarchical(true) failed: %v", err)
	}
	got = nil
	for _, h := range open {
		got = append(got, lv{h.Ident, h.Level})
	}
	want = []lv{
		{"orphan", 0},
		{"q-child", 0},
		{"r-1", 0},
		{"c-1", 1},
		{"g-1", 2},
		{"c-2", 1},
		{"r-1a", 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Hierarchical(true) mismatch (-want +got):\n%s", diff)
	}
}

func TestClear(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"a", "b"} {
		if err := db.Add(entry(id, "")); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}
	if err := db.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	ids, err := db.Idents(context.Background())
	if err != nil {
		t.Fatalf("Idents() failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Idents() after Clear = %v, want empty", ids)
	}
}

func TestHasSpecialOutOfRange(t *testing.T) {
	db := openTestDB(t)
	var ok bool
	if err := db.conn.QueryRow(`SELECT has_special(255, 9)`).Scan(&ok); err != nil {
		t.Fatalf("has_special query failed: %v", err)
	}
	if ok {
		t.Error("has_special(255, 9) = true, want false")
	}
}
