package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghostpub/ghostd/internal/site"
	"github.com/ghostpub/ghostd/internal/store"
)

func testSnapshot(items ...store.Item) *store.Snapshot {
	root := store.Category{ID: 1, RootID: 1, Name: "Fiction", Slug: "fiction"}
	parent := root.ID
	child := store.Category{ID: 2, RootID: 1, ParentID: &parent, Name: "Crime", Slug: "crime"}
	return &store.Snapshot{
		Items:      items,
		Categories: []store.Category{root, child},
		Publishers: map[string]string{"h1": "Alice"},
	}
}

func testWorkdir(t *testing.T) *site.Workdir {
	t.Helper()
	return site.NewWorkdir(t.TempDir())
}

func itemFixture(id int64, title string) store.Item {
	return store.Item{
		ID:            id,
		Title:         title,
		SourceURI:     "urn:item:" + title,
		Fingerprint:   "fp-" + title,
		BodyMarkdown:  "Some **body** text.",
		Tags:          []string{"noir"},
		CategoryID:    2,
		PublisherHash: "h1",
		Status:        store.StatusActive,
		PublishedAt:   time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestProject_OmitsPrivateCoverURL(t *testing.T) {
	it := itemFixture(1, "The Long Goodbye")
	url := "https://private.example/cover.jpg"
	path := "assets/covers/1.jpg"
	it.CoverURL = &url
	it.CoverPath = &path

	items := Project(testSnapshot(it))
	require.Len(t, items, 1)
	require.Equal(t, "assets/covers/1.jpg", items[0].CoverPath)
	require.Equal(t, "fiction/crime", items[0].CategoryPath)
	require.Equal(t, "Crime", items[0].CategoryName)
	require.Equal(t, "Alice", items[0].Publisher)
	require.Equal(t, "/resources/1/", items[0].URL)
}

func TestRun_WritesMarkdownWithFrontmatter(t *testing.T) {
	w := testWorkdir(t)
	e := New(w)

	_, err := e.Run(testSnapshot(itemFixture(1, "The Long Goodbye")))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(w.ContentDir, "the-long-goodbye.md"))
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.HasPrefix(content, "---\n"))
	require.Contains(t, content, "title: The Long Goodbye")
	require.Contains(t, content, "url: /resources/1/")
	require.Contains(t, content, "category: fiction/crime")
	require.Contains(t, content, "fingerprint: fp-The Long Goodbye")
	require.Contains(t, content, "Some **body** text.")
	require.NotContains(t, content, "private.example", "remote cover URL must never be exported")
}

func TestRun_DisambiguatesDuplicateSlugs(t *testing.T) {
	w := testWorkdir(t)
	e := New(w)

	a := itemFixture(1, "Duplicate Title")
	b := itemFixture(2, "Duplicate Title")
	b.Fingerprint = "fp-other"
	b.SourceURI = "urn:item:other"

	_, err := e.Run(testSnapshot(a, b))
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(w.ContentDir, "duplicate-title.md"))
	require.FileExists(t, filepath.Join(w.ContentDir, "duplicate-title-2.md"))
}

func TestRun_FallsBackToIDWhenSlugEmpty(t *testing.T) {
	w := testWorkdir(t)
	e := New(w)

	_, err := e.Run(testSnapshot(itemFixture(7, "日本語のみ")))
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(w.ContentDir, "7.md"))
}

func TestRun_PrunesOrphanedExports(t *testing.T) {
	w := testWorkdir(t)
	e := New(w)

	_, err := e.Run(testSnapshot(itemFixture(1, "First"), itemFixture(2, "Second")))
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(w.ContentDir, "second.md"))

	// Second item vanished from the snapshot (deleted or taken down).
	_, err = e.Run(testSnapshot(itemFixture(1, "First")))
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(w.ContentDir, "first.md"))
	require.NoFileExists(t, filepath.Join(w.ContentDir, "second.md"))
}

func TestRun_IsIdempotentOnUnchangedContent(t *testing.T) {
	w := testWorkdir(t)
	e := New(w)
	snap := testSnapshot(itemFixture(1, "Stable"))

	_, err := e.Run(snap)
	require.NoError(t, err)

	path := filepath.Join(w.ContentDir, "stable.md")
	before, err := os.Stat(path)
	require.NoError(t, err)

	_, err = e.Run(snap)
	require.NoError(t, err)

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime(), "unchanged files keep their mtime")
}

func TestRun_WritesHomepage(t *testing.T) {
	w := testWorkdir(t)
	e := New(w)

	_, err := e.Run(testSnapshot())
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(w.Root, "content", "_index.md"))
}

func TestRun_WritesFacetPagesWithMetaTags(t *testing.T) {
	w := testWorkdir(t)
	e := New(w)

	// Scaffold landing page the facet pages derive from.
	landing := "<!doctype html><html><head><title>Tags</title></head><body></body></html>"
	require.NoError(t, site.WriteIfChanged(filepath.Join(w.StaticDir, "tags", "index.html"), []byte(landing)))

	it := itemFixture(1, "Tagged")
	it.Tags = []string{"noir", "sci fi"}
	_, err := e.Run(testSnapshot(it))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(w.StaticDir, "tags", "noir", "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(data), `<meta name="ghost-initial-tags" content="noir">`)
	require.Contains(t, string(data), "<title>Tags</title>")

	// Tags with spaces get path-escaped directories.
	require.FileExists(t, filepath.Join(w.StaticDir, "tags", "sci%20fi", "index.html"))

	data, err = os.ReadFile(filepath.Join(w.StaticDir, "categories", "fiction", "crime", "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(data), `<meta name="ghost-initial-category" content="fiction/crime">`)
}

func TestRun_RemovesStaleFacetPages(t *testing.T) {
	w := testWorkdir(t)
	e := New(w)

	it := itemFixture(1, "Tagged")
	it.Tags = []string{"old-tag"}
	_, err := e.Run(testSnapshot(it))
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(w.StaticDir, "tags", "old-tag", "index.html"))

	it.Tags = []string{"new-tag"}
	_, err = e.Run(testSnapshot(it))
	require.NoError(t, err)
	require.NoFileExists(t, filepath.Join(w.StaticDir, "tags", "old-tag", "index.html"))
	require.FileExists(t, filepath.Join(w.StaticDir, "tags", "new-tag", "index.html"))
}
