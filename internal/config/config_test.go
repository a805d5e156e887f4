package config

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/item"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsDeriveFromRoot(t *testing.T) {
	root := t.TempDir()
	t.Setenv("FANLING_ROOT", root)

	c, err := Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, root, c.Root)
	assert.Equal(t, filepath.Join(root, "repo"), c.Repo.Path)
	assert.Equal(t, filepath.Join(root, "index.db"), c.Index.Path)
	assert.Equal(t, filepath.Join(root, "status.toml"), c.Status.Path)
	assert.Equal(t, "origin", c.Repo.Remote)
	assert.Equal(t, "main", c.Repo.Branch)
	assert.Equal(t, "items", c.Repo.ItemDir)
	assert.True(t, c.Repo.WriteToServer)
	assert.Equal(t, 5*time.Minute, c.Daemon.PullInterval)
	assert.Equal(t, "warn", c.Log.Level)
}

func TestFileAndEnvironment(t *testing.T) {
	path := writeFile(t, "fanling.yaml", `
root: /tmp/fanling-test
user:
  name: Ada
  email: ada@example.com
ident:
  prefix: abcd
daemon:
  pull_interval: 30s
server:
  allowed_origins: [http://localhost:3000]
`)
	t.Setenv("FANLING_USER_NAME", "Grace")
	t.Setenv("FANLING_AUTO_LINK_ENABLED", "true")

	v := New(path)
	require.NoError(t, Read(v))
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/fanling-test", c.Root)
	assert.Equal(t, "Grace", c.User.Name)
	assert.Equal(t, "ada@example.com", c.User.Email)
	assert.Equal(t, "abcd", c.Ident.Prefix)
	assert.True(t, c.AutoLink.Enabled)
	assert.Equal(t, 30*time.Second, c.Daemon.PullInterval)
	assert.Equal(t, []string{"http://localhost:3000"}, c.Server.AllowedOrigins)
}

func TestTOMLFile(t *testing.T) {
	path := writeFile(t, "fanling.toml", `
[user]
name = "Ada"
email = "ada@example.com"

[auto_link]
type = "Task"
`)
	v := New(path)
	require.NoError(t, Read(v))
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "Ada", c.User.Name)
	assert.Equal(t, "Task", c.AutoLink.Type)
}

func TestMissingExplicitFile(t *testing.T) {
	v := New(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, Read(v))
}

func TestLoadRejectsBadValues(t *testing.T) {
	v := New("")
	v.Set("ident.prefix", "9ab")
	_, err := Load(v)
	require.ErrorIs(t, err, ErrBadPrefix)

	v = New("")
	v.Set("auto_link.type", "Widget")
	_, err = Load(v)
	require.ErrorIs(t, err, item.ErrNoSuchType)
}

func TestNewPrefix(t *testing.T) {
	re := regexp.MustCompile(`^[a-p]{4}$`)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		p := NewPrefix()
		assert.Regexp(t, re, p)
		seen[p] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestEnsurePrefixPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "fanling.yaml")

	p, err := EnsurePrefix(New(path), path)
	require.NoError(t, err)
	require.Len(t, p, 4)

	v := New(path)
	require.NoError(t, Read(v))
	assert.Equal(t, p, v.GetString("ident.prefix"))

	again, err := EnsurePrefix(v, path)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestEngineOptions(t *testing.T) {
	v := New("")
	v.Set("root", t.TempDir())
	c, err := Load(v)
	require.NoError(t, err)

	_, err = c.EngineOptions(zap.NewNop())
	require.ErrorIs(t, err, ErrNoIdentity)

	c.User.Name, c.User.Email = "Ada", "ada@example.com"
	c.Ident.Prefix = "abcd"
	opts, err := c.EngineOptions(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, c.Repo.Path, opts.World.Store.Path)
	assert.Equal(t, "Ada", opts.World.Store.Name)
	assert.Equal(t, c.Index.Path, opts.World.IndexPath)
	assert.Equal(t, "abcd", opts.World.UniqPrefix)
	assert.Equal(t, item.KindSimple, opts.World.AutoLinkKind)
	assert.Equal(t, c.Status.Path, opts.StatusPath)
}

func TestDaemonWatchesLocalRemote(t *testing.T) {
	remote := t.TempDir()
	c := Config{Repo: Repo{URL: remote}, Daemon: Daemon{WatchRemote: true, Debounce: time.Second}}
	assert.Equal(t, remote, c.DaemonConfig(zap.NewNop()).WatchPath)

	c.Repo.URL = "git@example.com:notes.git"
	assert.Empty(t, c.DaemonConfig(zap.NewNop()).WatchPath)
}
