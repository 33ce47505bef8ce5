package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Snapshot is one internally-consistent view of the exportable database:
// every non-takedown item, the full category tree and the publisher directory,
// read in a single transaction so exports never mix states.
type Snapshot struct {
	Items      []Item
	Categories []Category
	Publishers map[string]string // token hash -> display name
}

// Snapshot reads a consistent snapshot for a build.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &Snapshot{Publishers: map[string]string{}}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, root_id, parent_id, name, slug, sort_order
		FROM category ORDER BY root_id, sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	for rows.Next() {
		var (
			c      Category
			parent sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.RootID, &parent, &c.Name, &c.Slug, &c.SortOrder); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category: %w", err)
		}
		if parent.Valid {
			c.ParentID = &parent.Int64
		}
		snap.Categories = append(snap.Categories, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT id, title, source_uri, fingerprint, body_markdown, cover_url, cover_path,
		       tags_json, category_id, publisher_hash, status, last_checked,
		       created_at, updated_at, published_at
		FROM item WHERE takedown_at IS NULL ORDER BY published_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Items = append(snap.Items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `SELECT token_hash, display_name FROM publisher`)
	if err != nil {
		return nil, fmt.Errorf("query publishers: %w", err)
	}
	for rows.Next() {
		var hash, name string
		if err := rows.Scan(&hash, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan publisher: %w", err)
		}
		snap.Publishers[hash] = name
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publishers: %w", err)
	}

	return snap, tx.Commit()
}

func scanItem(rows *sql.Rows) (Item, error) {
	var (
		it                               Item
		coverURL, coverPath, lastChecked sql.NullString
		tagsJSON, status                 string
		createdAt, updatedAt, published  string
	)
	if err := rows.Scan(&it.ID, &it.Title, &it.SourceURI, &it.Fingerprint, &it.BodyMarkdown,
		&coverURL, &coverPath, &tagsJSON, &it.CategoryID, &it.PublisherHash, &status,
		&lastChecked, &createdAt, &updatedAt, &published); err != nil {
		return Item{}, fmt.Errorf("scan item: %w", err)
	}
	if coverURL.Valid {
		it.CoverURL = &coverURL.String
	}
	if coverPath.Valid {
		it.CoverPath = &coverPath.String
	}
	it.Status = AvailabilityStatus(status)

	// Malformed tags degrade to none rather than failing the export.
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err == nil {
		it.Tags = tags
	}

	var err error
	if it.LastChecked, err = scanNullTime(lastChecked); err != nil {
		return Item{}, fmt.Errorf("parse last_checked: %w", err)
	}
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return Item{}, fmt.Errorf("parse created_at: %w", err)
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Item{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if it.PublishedAt, err = parseTime(published); err != nil {
		return Item{}, fmt.Errorf("parse published_at: %w", err)
	}
	return it, nil
}

// CategoryInfo is a resolved category with its slash-joined slug path.
type CategoryInfo struct {
	ID   int64
	Name string
	Slug string
	Path string
}

// CategoryPaths resolves each category to its root-to-leaf slug path.
func (sn *Snapshot) CategoryPaths() map[int64]CategoryInfo {
	byID := make(map[int64]Category, len(sn.Categories))
	for _, c := range sn.Categories {
		byID[c.ID] = c
	}

	paths := make(map[int64]CategoryInfo, len(sn.Categories))
	for _, c := range sn.Categories {
		parts := []string{c.Slug}
		for p := c.ParentID; p != nil; {
			parent, ok := byID[*p]
			if !ok {
				break
			}
			parts = append(parts, parent.Slug)
			p = parent.ParentID
		}
		// parts is leaf-first; join root-first.
		var path string
		for i := len(parts) - 1; i >= 0; i-- {
			if path != "" {
				path += "/"
			}
			path += parts[i]
		}
		paths[c.ID] = CategoryInfo{ID: c.ID, Name: c.Name, Slug: c.Slug, Path: path}
	}
	return paths
}

// PublisherName returns the display name for a token hash, or "Anonymous".
func (sn *Snapshot) PublisherName(tokenHash string) string {
	if name, ok := sn.Publishers[tokenHash]; ok {
		return name
	}
	return "Anonymous"
}
