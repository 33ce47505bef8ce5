// Package export projects a database snapshot into canonical files in the
// site work directory.
//
// Exports are a full resync: after Run, the work directory's content set is
// exactly the projection of the snapshot, independent of prior build history.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/site"
	"github.com/ghostpub/ghostd/internal/slug"
	"github.com/ghostpub/ghostd/internal/store"
)

// PublicItem is the public-safe projection of an item. The private cover
// source URL is intentionally absent; only the localized path is exposed.
type PublicItem struct {
	ID           int64
	Title        string
	SourceURI    string
	BodyMarkdown string
	Tags         []string
	CategoryID   int64
	CategoryPath string
	CategoryName string
	CoverPath    string
	Publisher    string
	Status       store.AvailabilityStatus
	LastChecked  *time.Time
	PublishedAt  time.Time
	URL          string
}

// frontMatter is the YAML header written to each exported markdown file.
type frontMatter struct {
	Title        string   `yaml:"title"`
	Date         string   `yaml:"date"`
	Slug         string   `yaml:"slug"`
	URL          string   `yaml:"url"`
	SourceURI    string   `yaml:"source_uri"`
	Fingerprint  string   `yaml:"fingerprint"`
	Status       string   `yaml:"status"`
	LastChecked  string   `yaml:"last_checked,omitempty"`
	Tags         []string `yaml:"tags"`
	Category     string   `yaml:"category"`
	CategoryName string   `yaml:"category_name"`
	CoverPath    string   `yaml:"cover_image_path,omitempty"`
	Publisher    string   `yaml:"publisher"`
}

// Exporter writes item and taxonomy pages into a work directory.
type Exporter struct {
	workdir *Workdir
}

// Workdir is the subset of site.Workdir the exporter needs. Indirection keeps
// the package testable without a full site scaffold.
type Workdir = site.Workdir

// New creates an Exporter for the given work directory.
func New(w *Workdir) *Exporter {
	return &Exporter{workdir: w}
}

// Project converts the snapshot into public item projections in snapshot
// order (published_at ascending, ties by id).
func Project(snap *store.Snapshot) []PublicItem {
	paths := snap.CategoryPaths()
	out := make([]PublicItem, 0, len(snap.Items))
	for _, it := range snap.Items {
		info := paths[it.CategoryID]
		p := PublicItem{
			ID:           it.ID,
			Title:        it.Title,
			SourceURI:    it.SourceURI,
			BodyMarkdown: it.BodyMarkdown,
			Tags:         it.Tags,
			CategoryID:   it.CategoryID,
			CategoryPath: info.Path,
			CategoryName: info.Name,
			Publisher:    snap.PublisherName(it.PublisherHash),
			Status:       it.Status,
			LastChecked:  it.LastChecked,
			PublishedAt:  it.PublishedAt,
			URL:          fmt.Sprintf("/resources/%d/", it.ID),
		}
		if it.CoverPath != nil {
			p.CoverPath = *it.CoverPath
		}
		if p.Tags == nil {
			p.Tags = []string{}
		}
		out = append(out, p)
	}
	return out
}

// Run writes one markdown file per item plus homepage and facet pages, then
// removes every previously exported file that no longer corresponds to a
// snapshot entity.
func (e *Exporter) Run(snap *store.Snapshot) ([]PublicItem, error) {
	if err := e.workdir.EnsureBase(); err != nil {
		return nil, err
	}

	items := Project(snap)

	written := make(map[string]struct{}, len(items))
	fingerprints := fingerprintIndex(snap)
	for _, p := range items {
		name := fileName(p, written)
		written[name] = struct{}{}
		path := filepath.Join(e.workdir.ContentDir, name)
		if err := writeMarkdown(path, p, fingerprints[p.ID]); err != nil {
			return nil, fmt.Errorf("export item %d: %w", p.ID, err)
		}
	}

	if err := e.pruneOrphans(written); err != nil {
		return nil, err
	}
	if err := e.writeHomepage(); err != nil {
		return nil, err
	}
	if err := e.writeFacetPages(items, snap); err != nil {
		return nil, err
	}

	slog.Info("Content export complete", logfields.Count(len(items)))
	return items, nil
}

// fileName derives the slug-based file name, appending the item id when the
// slug is empty or already taken in this export.
func fileName(p PublicItem, taken map[string]struct{}) string {
	base := slug.Make(p.Title)
	if base == "" {
		return fmt.Sprintf("%d.md", p.ID)
	}
	name := base + ".md"
	if _, dup := taken[name]; dup {
		name = fmt.Sprintf("%s-%d.md", base, p.ID)
	}
	return name
}

func fingerprintIndex(snap *store.Snapshot) map[int64]string {
	m := make(map[int64]string, len(snap.Items))
	for _, it := range snap.Items {
		m[it.ID] = it.Fingerprint
	}
	return m
}

func writeMarkdown(path string, p PublicItem, fingerprint string) error {
	fm := frontMatter{
		Title:        p.Title,
		Date:         p.PublishedAt.UTC().Format(time.RFC3339),
		Slug:         fmt.Sprintf("%d", p.ID),
		URL:          p.URL,
		SourceURI:    p.SourceURI,
		Fingerprint:  fingerprint,
		Status:       string(p.Status),
		Tags:         p.Tags,
		Category:     p.CategoryPath,
		CategoryName: p.CategoryName,
		CoverPath:    p.CoverPath,
		Publisher:    p.Publisher,
	}
	if p.LastChecked != nil {
		fm.LastChecked = p.LastChecked.UTC().Format(time.RFC3339)
	}

	head, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(p.BodyMarkdown))
	b.WriteString("\n")

	return site.WriteIfChanged(path, []byte(b.String()))
}

// pruneOrphans deletes exported files whose entity vanished or was taken down.
func (e *Exporter) pruneOrphans(written map[string]struct{}) error {
	entries, err := os.ReadDir(e.workdir.ContentDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read content dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, keep := written[entry.Name()]; keep {
			continue
		}
		path := filepath.Join(e.workdir.ContentDir, entry.Name())
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove orphan %s: %w", path, err)
		}
		slog.Debug("Removed orphaned export", logfields.Path(path))
	}
	return nil
}

func (e *Exporter) writeHomepage() error {
	const homepage = "---\ntitle: Ghost Index\n---\n\nWelcome to the public mirror. This page is generated by the build job.\n"
	path := filepath.Join(e.workdir.Root, "content", "_index.md")
	return site.WriteIfChanged(path, []byte(homepage))
}
