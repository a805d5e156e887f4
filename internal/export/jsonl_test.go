package export

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanling-notes/fanling/internal/item"
	"github.com/fanling-notes/fanling/internal/store"
	"github.com/fanling-notes/fanling/internal/world"
)

func openWorld(t *testing.T, dir, name, prefix string) *world.World {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	w, err := world.Open(context.Background(), world.Options{
		Store: store.Options{
			Path:    filepath.Join(dir, name+".git"),
			Name:    name,
			Email:   name + "@example.com",
			SSHPath: filepath.Join(dir, "no-such-key"),
		},
		IndexPath:  filepath.Join(dir, name+".db"),
		UniqPrefix: prefix,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := openWorld(t, dir, "src", "a")

	note, err := src.MakeItem(ctx, item.KindSimple, item.BaseFields{}, map[string]string{"name": "note", "text": "hello"})
	require.NoError(t, err)
	task, err := src.MakeItem(ctx, item.KindTask, item.BaseFields{Parent: note.Ident}, map[string]string{"name": "do it", "priority": "3"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 3)
	assert.Contains(t, buf.String(), `"ident":"`+task.Ident+`"`)

	dst := openWorld(t, dir, "dst", "b")
	res, err := Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped, "default context exists in both")
	assert.Empty(t, res.Errors)

	base, vals, err := dst.ItemParts(ctx, task.Ident)
	require.NoError(t, err)
	assert.Equal(t, "Task", base.Type)
	assert.Equal(t, note.Ident, base.Parent)
	assert.Equal(t, "3", vals["priority"])

	// A second import changes nothing.
	res, err = Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 3, res.Skipped)
}

func TestImportBadLines(t *testing.T) {
	ctx := context.Background()
	w := openWorld(t, t.TempDir(), "solo", "a")

	in := `{"base":{"type":"Simple"},"data":{"name":"anon"}}
{"base":{"ident":"w-1","type":"Widget"},"data":{}}

{"base":{"ident":"ok-1","type":"Simple"},"data":{"name":"fine"}}
`
	res, err := Import(ctx, w, strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "line 1")
	assert.Contains(t, res.Errors[1], "line 2")

	_, err = Import(ctx, w, strings.NewReader("{\"base\":\n"))
	require.ErrorContains(t, err, "line 1")
}

func TestImportValidates(t *testing.T) {
	ctx := context.Background()
	w := openWorld(t, t.TempDir(), "solo", "a")

	in := `{"base":{"ident":"t-1","type":"Task"},"data":{"name":"x","priority":"high"}}` + "\n"
	res, err := Import(ctx, w, strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Priority must be numeric")

	has, err := w.Has(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestImportRejectsBadIdents(t *testing.T) {
	ctx := context.Background()
	w := openWorld(t, t.TempDir(), "solo", "a")

	in := `{"base":{"ident":"-bad","type":"Simple"},"data":{"name":"x"}}
{"base":{"ident":"?bad","type":"Task"},"data":{"name":"y"}}
`
	res, err := Import(ctx, w, strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "line 1: Ident must not start")
	assert.Contains(t, res.Errors[1], "line 2: Ident must not start")

	for _, ident := range []string{"-bad", "?bad"} {
		has, err := w.Has(ctx, ident)
		require.NoError(t, err)
		assert.False(t, has, ident)
	}
}
