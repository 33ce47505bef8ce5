package store

import (
	"context"
	"fmt"
	"time"
)

// SetCoverPath records a localized cover path on an item. The pipeline calls
// this after a successful cover fetch; updated_at is left alone so cover
// localization never looks like a content edit.
func (s *Store) SetCoverPath(ctx context.Context, itemID int64, path string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE item SET cover_path = ? WHERE id = ?`, path, itemID)
	if err != nil {
		return fmt.Errorf("set cover path for item %d: %w", itemID, err)
	}
	return nil
}

// StatusUpdate is one scanner observation to apply.
type StatusUpdate struct {
	ItemID int64
	Status AvailabilityStatus
}

// ApplyStatusUpdates writes probe results in one transaction and returns how
// many items actually changed status. last_checked is always refreshed, but a
// write that reproduces the stored status never counts as a change and never
// marks the build dirty.
func (s *Store) ApplyStatusUpdates(ctx context.Context, updates []StatusUpdate, checkedAt time.Time) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	changed := 0
	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `
			UPDATE item SET status = ?1, last_checked = ?2
			WHERE id = ?3 AND status <> ?1`, string(u.Status), formatTime(checkedAt), u.ItemID)
		if err != nil {
			return 0, fmt.Errorf("update status for item %d: %w", u.ItemID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("status rows for item %d: %w", u.ItemID, err)
		}
		if n > 0 {
			changed++
			continue
		}
		// Unchanged status: still record the probe time.
		if _, err := tx.ExecContext(ctx, `
			UPDATE item SET last_checked = ? WHERE id = ?`, formatTime(checkedAt), u.ItemID); err != nil {
			return 0, fmt.Errorf("touch last_checked for item %d: %w", u.ItemID, err)
		}
	}

	if changed > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE build_state SET dirty = 1, reason = ?, mark_seq = mark_seq + 1
			WHERE id = 1`, "availability status updated"); err != nil {
			return 0, fmt.Errorf("mark dirty after status change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit status updates: %w", err)
	}
	return changed, nil
}

// ProbeTarget is the minimal projection the scanner needs per item.
type ProbeTarget struct {
	ItemID    int64
	SourceURI string
}

// ProbeTargets returns non-takedown items to probe. A positive limit yields a
// random sample; zero or negative means every item in id order.
func (s *Store) ProbeTargets(ctx context.Context, limit int) ([]ProbeTarget, error) {
	query := `SELECT id, source_uri FROM item WHERE takedown_at IS NULL ORDER BY id`
	args := []any{}
	if limit > 0 {
		query = `SELECT id, source_uri FROM item WHERE takedown_at IS NULL ORDER BY RANDOM() LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query probe targets: %w", err)
	}
	defer rows.Close()

	var targets []ProbeTarget
	for rows.Next() {
		var t ProbeTarget
		if err := rows.Scan(&t.ItemID, &t.SourceURI); err != nil {
			return nil, fmt.Errorf("scan probe target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// CoverCandidate is an item needing cover localization.
type CoverCandidate struct {
	ItemID   int64
	CoverURL string
}

// CoverCandidates returns non-takedown items that have a remote cover and no
// localized copy yet. When refresh is true, already-localized items are
// included again.
func (s *Store) CoverCandidates(ctx context.Context, refresh bool) ([]CoverCandidate, error) {
	query := `
		SELECT id, cover_url FROM item
		WHERE takedown_at IS NULL AND cover_url IS NOT NULL AND cover_url <> ''`
	if !refresh {
		query += ` AND (cover_path IS NULL OR cover_path = '')`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query cover candidates: %w", err)
	}
	defer rows.Close()

	var out []CoverCandidate
	for rows.Next() {
		var c CoverCandidate
		if err := rows.Scan(&c.ItemID, &c.CoverURL); err != nil {
			return nil, fmt.Errorf("scan cover candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
