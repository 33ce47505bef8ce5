package site

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureScaffold_WritesConfigAndAssets(t *testing.T) {
	w := NewWorkdir(t.TempDir())
	require.NoError(t, w.EnsureScaffold("https://books.example.org/"))

	cfg, err := os.ReadFile(filepath.Join(w.Root, "config.toml"))
	require.NoError(t, err)
	require.Contains(t, string(cfg), `baseURL = "https://books.example.org/"`)
	require.NotContains(t, string(cfg), "{{BASEURL}}")

	for _, rel := range []string{
		"layouts/_default/baseof.html",
		"layouts/_default/list.html",
		"layouts/_default/single.html",
		"static/css/main.css",
		"static/js/index-loader.js",
		"static/js/search.js",
		"static/js/catalog.js",
		"static/tags/index.html",
		"static/categories/index.html",
	} {
		require.FileExists(t, filepath.Join(w.Root, filepath.FromSlash(rel)))
	}
}

func TestEnsureScaffold_KeepsMtimeWhenUnchanged(t *testing.T) {
	w := NewWorkdir(t.TempDir())
	require.NoError(t, w.EnsureScaffold("https://example.org/"))

	path := filepath.Join(w.Root, "static", "css", "main.css")
	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, w.EnsureScaffold("https://example.org/"))
	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())
}

func TestEnsureScaffold_RestoresEditedAsset(t *testing.T) {
	w := NewWorkdir(t.TempDir())
	require.NoError(t, w.EnsureScaffold("https://example.org/"))

	path := filepath.Join(w.Root, "static", "css", "main.css")
	require.NoError(t, os.WriteFile(path, []byte("/* clobbered */"), 0o644))

	require.NoError(t, w.EnsureScaffold("https://example.org/"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, strings.HasPrefix(string(data), "/* clobbered */"))
}

func TestCleanIndexDirs_DropsStaleFiles(t *testing.T) {
	w := NewWorkdir(t.TempDir())
	require.NoError(t, w.EnsureBase())
	require.NoError(t, os.MkdirAll(w.IndexDir(), 0o755))
	stale := filepath.Join(w.IndexDir(), "index-1999-01.json")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))

	require.NoError(t, w.CleanIndexDirs())
	require.NoFileExists(t, stale)
	require.DirExists(t, w.IndexDir())
}

func TestWriteIfChanged_CreatesParents(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a", "b", "c.txt")
	require.NoError(t, WriteIfChanged(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}
