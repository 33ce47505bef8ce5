package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetCoverPath_DoesNotTouchUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	cat := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)
	id := insertItem(t, s, testItem{title: "Book", sourceURI: "u:1", fingerprint: "f1", categoryID: cat, publishedAt: time.Now()})

	var before string
	require.NoError(t, s.DB().QueryRow(`SELECT updated_at FROM item WHERE id = ?`, id).Scan(&before))

	require.NoError(t, s.SetCoverPath(context.Background(), id, "covers/1.jpg"))

	var after, coverPath string
	require.NoError(t, s.DB().QueryRow(`SELECT updated_at, cover_path FROM item WHERE id = ?`, id).Scan(&after, &coverPath))
	require.Equal(t, before, after)
	require.Equal(t, "covers/1.jpg", coverPath)
}

func TestApplyStatusUpdates_CountsOnlyRealChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cat := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)
	a := insertItem(t, s, testItem{title: "A", sourceURI: "u:1", fingerprint: "f1", categoryID: cat,
		status: StatusActive, publishedAt: time.Now()})
	b := insertItem(t, s, testItem{title: "B", sourceURI: "u:2", fingerprint: "f2", categoryID: cat,
		status: StatusActive, publishedAt: time.Now()})

	checked := time.Now()
	changed, err := s.ApplyStatusUpdates(ctx, []StatusUpdate{
		{ItemID: a, Status: StatusActive}, // no change
		{ItemID: b, Status: StatusStale},  // real change
	}, checked)
	require.NoError(t, err)
	require.Equal(t, 1, changed)

	st, err := s.State(ctx)
	require.NoError(t, err)
	require.True(t, st.Dirty)
	require.NotNil(t, st.Reason)
	require.Equal(t, "availability status updated", *st.Reason)
}

func TestApplyStatusUpdates_NoChangeLeavesStateClean(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cat := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)
	id := insertItem(t, s, testItem{title: "A", sourceURI: "u:1", fingerprint: "f1", categoryID: cat,
		status: StatusActive, publishedAt: time.Now()})

	changed, err := s.ApplyStatusUpdates(ctx, []StatusUpdate{{ItemID: id, Status: StatusActive}}, time.Now())
	require.NoError(t, err)
	require.Zero(t, changed)

	st, err := s.State(ctx)
	require.NoError(t, err)
	require.False(t, st.Dirty, "identical status must not dirty the build")

	// The probe timestamp is still recorded.
	var lastChecked string
	require.NoError(t, s.DB().QueryRow(`SELECT last_checked FROM item WHERE id = ?`, id).Scan(&lastChecked))
	require.NotEmpty(t, lastChecked)
}

func TestProbeTargets_SampleAndFull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cat := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)
	now := time.Now()
	for i := range 10 {
		insertItem(t, s, testItem{title: "Item", sourceURI: "u:" + string(rune('a'+i)),
			fingerprint: "f" + string(rune('a'+i)), categoryID: cat, publishedAt: now})
	}
	insertItem(t, s, testItem{title: "Gone", sourceURI: "u:gone", fingerprint: "fgone",
		categoryID: cat, publishedAt: now, takedownAt: &now})

	sample, err := s.ProbeTargets(ctx, 3)
	require.NoError(t, err)
	require.Len(t, sample, 3)

	all, err := s.ProbeTargets(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 10, "takedown items are never probed")
}

func TestCoverCandidates_SkipsLocalizedUnlessRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cat := insertCategory(t, s, 1, nil, "Fiction", "fiction", 0)
	now := time.Now()

	url := "https://img.example/cover.jpg"
	pending := insertItem(t, s, testItem{title: "Pending", sourceURI: "u:1", fingerprint: "f1",
		categoryID: cat, coverURL: &url, publishedAt: now})
	done := insertItem(t, s, testItem{title: "Done", sourceURI: "u:2", fingerprint: "f2",
		categoryID: cat, coverURL: &url, publishedAt: now})
	require.NoError(t, s.SetCoverPath(ctx, done, "covers/2.jpg"))
	insertItem(t, s, testItem{title: "NoCover", sourceURI: "u:3", fingerprint: "f3",
		categoryID: cat, publishedAt: now})

	candidates, err := s.CoverCandidates(ctx, false)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, pending, candidates[0].ItemID)

	refreshed, err := s.CoverCandidates(ctx, true)
	require.NoError(t, err)
	require.Len(t, refreshed, 2)
}
