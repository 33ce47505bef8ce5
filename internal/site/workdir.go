// Package site manages the layout of the static-site work directory and its
// Hugo scaffold.
package site

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workdir describes the on-disk layout of the site work directory.
type Workdir struct {
	Root       string
	ContentDir string // content/resources, one markdown file per item
	StaticDir  string
	LayoutsDir string
	DataDir    string
	PublicDir  string // renderer output
}

// NewWorkdir builds the layout rooted at root without touching the disk.
func NewWorkdir(root string) *Workdir {
	return &Workdir{
		Root:       root,
		ContentDir: filepath.Join(root, "content", "resources"),
		StaticDir:  filepath.Join(root, "static"),
		LayoutsDir: filepath.Join(root, "layouts"),
		DataDir:    filepath.Join(root, "data"),
		PublicDir:  filepath.Join(root, "public"),
	}
}

// IndexDir is where search index shards and taxonomy aggregates live.
func (w *Workdir) IndexDir() string { return filepath.Join(w.StaticDir, "index") }

// CoversDir is where localized cover images live.
func (w *Workdir) CoversDir() string { return filepath.Join(w.StaticDir, "assets", "covers") }

// EnsureBase creates the directory skeleton.
func (w *Workdir) EnsureBase() error {
	for _, dir := range []string{w.Root, w.ContentDir, w.StaticDir, w.LayoutsDir, w.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// CleanIndexDirs drops and recreates the generated index directory so stale
// shards from a previous build never survive.
func (w *Workdir) CleanIndexDirs() error {
	dir := w.IndexDir()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recreate %s: %w", dir, err)
	}
	return nil
}

// WriteIfChanged writes content to path only when the current content differs,
// keeping mtimes stable for unchanged scaffold files.
func WriteIfChanged(path string, content []byte) error {
	if existing, err := os.ReadFile(path); err == nil && string(existing) == string(content) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
