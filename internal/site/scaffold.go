package site

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

//go:embed all:assets
var scaffoldAssets embed.FS

// EnsureScaffold writes the Hugo configuration, layouts and static assets into
// the work directory. Files are only rewritten when their content changed, so
// repeated builds leave an unchanged scaffold untouched.
func (w *Workdir) EnsureScaffold(baseURL string) error {
	if err := w.EnsureBase(); err != nil {
		return err
	}

	cfg := strings.ReplaceAll(hugoConfigTemplate, "{{BASEURL}}", baseURL)
	if err := WriteIfChanged(filepath.Join(w.Root, "config.toml"), []byte(cfg)); err != nil {
		return err
	}

	return fs.WalkDir(scaffoldAssets, "assets", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := scaffoldAssets.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read embedded asset %s: %w", path, err)
		}
		rel := strings.TrimPrefix(path, "assets/")
		return WriteIfChanged(filepath.Join(w.Root, filepath.FromSlash(rel)), data)
	})
}

const hugoConfigTemplate = `baseURL = "{{BASEURL}}"
languageCode = "en-us"
title = "Ghost Index"
enableRobotsTXT = true
disableKinds = ["taxonomy", "term"]

[pagination]
pagerSize = 30

[markup.goldmark.renderer]
unsafe = true
`
