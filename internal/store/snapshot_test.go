package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshot_ExcludesTakedownItems(t *testing.T) {
	s := newTestStore(t)
	cat := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)

	now := time.Now()
	insertItem(t, s, testItem{title: "Visible", sourceURI: "u:1", fingerprint: "f1", categoryID: cat, publishedAt: now})
	insertItem(t, s, testItem{title: "Hidden", sourceURI: "u:2", fingerprint: "f2", categoryID: cat, publishedAt: now, takedownAt: &now})

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.Equal(t, "Visible", snap.Items[0].Title)
}

func TestSnapshot_OrdersItemsByPublishedThenID(t *testing.T) {
	s := newTestStore(t)
	cat := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)

	early := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	insertItem(t, s, testItem{title: "C", sourceURI: "u:1", fingerprint: "f1", categoryID: cat, publishedAt: late})
	insertItem(t, s, testItem{title: "A", sourceURI: "u:2", fingerprint: "f2", categoryID: cat, publishedAt: early})
	insertItem(t, s, testItem{title: "B", sourceURI: "u:3", fingerprint: "f3", categoryID: cat, publishedAt: early})

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)
	require.Equal(t, "A", snap.Items[0].Title)
	require.Equal(t, "B", snap.Items[1].Title)
	require.Equal(t, "C", snap.Items[2].Title)
}

func TestSnapshot_ParsesTags(t *testing.T) {
	s := newTestStore(t)
	cat := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)
	insertItem(t, s, testItem{title: "Tagged", sourceURI: "u:1", fingerprint: "f1", categoryID: cat,
		tagsJSON: `["noir","classic"]`, publishedAt: time.Now()})
	insertItem(t, s, testItem{title: "Broken", sourceURI: "u:2", fingerprint: "f2", categoryID: cat,
		tagsJSON: `not-json`, publishedAt: time.Now()})

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"noir", "classic"}, snap.Items[0].Tags)
	require.Empty(t, snap.Items[1].Tags, "malformed tags degrade to none")
}

func TestCategoryPaths_NestedTree(t *testing.T) {
	s := newTestStore(t)
	root := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)
	child := insertCategory(t, s, 1, &root, "Crime", "crime", 0)
	grand := insertCategory(t, s, 1, &child, "Noir", "noir", 0)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	paths := snap.CategoryPaths()
	require.Equal(t, "fiction", paths[root].Path)
	require.Equal(t, "fiction/crime", paths[child].Path)
	require.Equal(t, "fiction/crime/noir", paths[grand].Path)
	require.Equal(t, "Noir", paths[grand].Name)
}

func TestPublisherName_FallsBackToAnonymous(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DB().Exec(`INSERT INTO publisher (token_hash, display_name) VALUES ('h1', 'Alice')`)
	require.NoError(t, err)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Alice", snap.PublisherName("h1"))
	require.Equal(t, "Anonymous", snap.PublisherName("missing"))
}
