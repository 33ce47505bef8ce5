package export

import (
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ghostpub/ghostd/internal/site"
	"github.com/ghostpub/ghostd/internal/store"
)

// fallbackFacetPage is used when the scaffold's landing page is missing; the
// catalog script only needs a head to hang the meta tag on.
const fallbackFacetPage = "<!doctype html><html><head></head><body></body></html>"

// writeFacetPages materializes one static landing page per tag and per
// category so facet URLs resolve without a server. Each page is the scaffold
// landing page with a meta tag naming the preselected facet.
func (e *Exporter) writeFacetPages(items []PublicItem, snap *store.Snapshot) error {
	if err := e.cleanFacetPages(); err != nil {
		return err
	}

	tags := map[string]struct{}{}
	for _, p := range items {
		for _, t := range p.Tags {
			tags[t] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(tags))
	for t := range tags {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	tagTemplate := e.facetTemplate("tags")
	for _, tag := range sorted {
		page := injectMeta(tagTemplate, "ghost-initial-tags", tag)
		path := filepath.Join(e.workdir.StaticDir, "tags", url.PathEscape(tag), "index.html")
		if err := site.WriteIfChanged(path, []byte(page)); err != nil {
			return fmt.Errorf("write tag page %q: %w", tag, err)
		}
	}

	catTemplate := e.facetTemplate("categories")
	paths := snap.CategoryPaths()
	for _, c := range snap.Categories {
		info := paths[c.ID]
		if info.Path == "" {
			continue
		}
		page := injectMeta(catTemplate, "ghost-initial-category", info.Path)
		path := filepath.Join(e.workdir.StaticDir, "categories", filepath.FromSlash(info.Path), "index.html")
		if err := site.WriteIfChanged(path, []byte(page)); err != nil {
			return fmt.Errorf("write category page %q: %w", info.Path, err)
		}
	}
	return nil
}

// cleanFacetPages removes generated per-facet pages, keeping each section's
// landing index.html (owned by the scaffold).
func (e *Exporter) cleanFacetPages() error {
	for _, section := range []string{"tags", "categories"} {
		dir := filepath.Join(e.workdir.StaticDir, section)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.Name() == "index.html" {
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
				return fmt.Errorf("clean facet page: %w", err)
			}
		}
	}
	return nil
}

func (e *Exporter) facetTemplate(section string) string {
	data, err := os.ReadFile(filepath.Join(e.workdir.StaticDir, section, "index.html"))
	if err != nil {
		return fallbackFacetPage
	}
	return string(data)
}

func injectMeta(page, name, content string) string {
	meta := fmt.Sprintf(`<meta name="%s" content="%s">`, name, html.EscapeString(content))
	return strings.Replace(page, "<head>", "<head>\n  "+meta, 1)
}
