// Package index builds the client-side search index: time-partitioned shards,
// a manifest, and taxonomy aggregates.
//
// The whole index is rebuilt from scratch every run and written with stable
// ordering, so an unchanged snapshot produces byte-identical files. That
// determinism matters because the output tree is diffed before publishing.
package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ghostpub/ghostd/internal/export"
	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/store"
)

// ShardItem is the minimal per-item projection stored in a shard.
type ShardItem struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Tags         []string `json:"tags"`
	CategoryPath string   `json:"category_path"`
	Publisher    string   `json:"publisher"`
	PublishedAt  string   `json:"published_at"`
	SourceURI    string   `json:"source_uri"`
	Status       string   `json:"status"`
	URL          string   `json:"url"`
	CoverPath    string   `json:"cover_image_path,omitempty"`
}

// Shard is one calendar-month partition of the index.
type Shard struct {
	Items []ShardItem `json:"items"`
}

// ShardRef describes one shard in the manifest.
type ShardRef struct {
	PartitionKey string `json:"partition_key"`
	File         string `json:"file"`
	Count        int    `json:"count"`
}

// Manifest lists all shards in ascending partition order.
type Manifest struct {
	Shards []ShardRef `json:"shards"`
}

// TagCount is one entry of the tag aggregate.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// TagAggregate is the tags.json payload.
type TagAggregate struct {
	Tags []TagCount `json:"tags"`
}

// CategoryNode is one node of the categories.json tree. Count includes items
// in all descendant categories.
type CategoryNode struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Count    int             `json:"count"`
	Children []*CategoryNode `json:"children"`
}

// CategoryAggregate is the categories.json payload.
type CategoryAggregate struct {
	Categories []*CategoryNode `json:"categories"`
}

// partitionKey is the calendar month of an item's publish timestamp.
func partitionKey(t time.Time) string { return t.UTC().Format("2006-01") }

// Build writes shards, manifest and taxonomy aggregates into dir.
func Build(items []export.PublicItem, snap *store.Snapshot, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	shards := map[string][]export.PublicItem{}
	for _, p := range items {
		key := partitionKey(p.PublishedAt)
		shards[key] = append(shards[key], p)
	}

	keys := make([]string, 0, len(shards))
	for key := range shards {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	manifest := Manifest{Shards: make([]ShardRef, 0, len(keys))}
	for _, key := range keys {
		members := shards[key]
		sort.SliceStable(members, func(i, j int) bool {
			if !members[i].PublishedAt.Equal(members[j].PublishedAt) {
				return members[i].PublishedAt.Before(members[j].PublishedAt)
			}
			return members[i].ID < members[j].ID
		})

		shard := Shard{Items: make([]ShardItem, 0, len(members))}
		for _, p := range members {
			shard.Items = append(shard.Items, projectShardItem(p))
		}

		file := fmt.Sprintf("index-%s.json", key)
		if err := writeJSON(filepath.Join(dir, file), shard); err != nil {
			return fmt.Errorf("write shard %s: %w", key, err)
		}
		manifest.Shards = append(manifest.Shards, ShardRef{PartitionKey: key, File: file, Count: len(members)})
	}

	if err := writeJSON(filepath.Join(dir, "manifest.json"), manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "tags.json"), buildTagAggregate(items)); err != nil {
		return fmt.Errorf("write tag aggregate: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "categories.json"), buildCategoryAggregate(items, snap)); err != nil {
		return fmt.Errorf("write category aggregate: %w", err)
	}

	slog.Info("Search index built",
		logfields.Count(len(items)),
		slog.Int("shards", len(keys)))
	return nil
}

func projectShardItem(p export.PublicItem) ShardItem {
	return ShardItem{
		ID:           p.ID,
		Title:        p.Title,
		Summary:      Summarize(p.BodyMarkdown),
		Tags:         p.Tags,
		CategoryPath: p.CategoryPath,
		Publisher:    p.Publisher,
		PublishedAt:  p.PublishedAt.UTC().Format(time.RFC3339),
		SourceURI:    p.SourceURI,
		Status:       string(p.Status),
		URL:          p.URL,
		CoverPath:    p.CoverPath,
	}
}

// buildTagAggregate counts tags, ordered by descending count then tag name.
func buildTagAggregate(items []export.PublicItem) TagAggregate {
	counts := map[string]int{}
	for _, p := range items {
		for _, tag := range p.Tags {
			counts[tag]++
		}
	}
	agg := TagAggregate{Tags: make([]TagCount, 0, len(counts))}
	for tag, n := range counts {
		agg.Tags = append(agg.Tags, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(agg.Tags, func(i, j int) bool {
		if agg.Tags[i].Count != agg.Tags[j].Count {
			return agg.Tags[i].Count > agg.Tags[j].Count
		}
		return agg.Tags[i].Tag < agg.Tags[j].Tag
	})
	return agg
}

// buildCategoryAggregate builds the category tree with counts accumulated up
// the parent chain. Children are ordered by sort_order then name.
func buildCategoryAggregate(items []export.PublicItem, snap *store.Snapshot) CategoryAggregate {
	byID := make(map[int64]store.Category, len(snap.Categories))
	for _, c := range snap.Categories {
		byID[c.ID] = c
	}

	counts := map[int64]int{}
	for _, p := range items {
		for id := p.CategoryID; ; {
			counts[id]++
			c, ok := byID[id]
			if !ok || c.ParentID == nil {
				break
			}
			id = *c.ParentID
		}
	}

	paths := snap.CategoryPaths()
	nodes := make(map[int64]*CategoryNode, len(snap.Categories))
	for _, c := range snap.Categories {
		nodes[c.ID] = &CategoryNode{
			Name:     c.Name,
			Path:     paths[c.ID].Path,
			Count:    counts[c.ID],
			Children: []*CategoryNode{},
		}
	}

	var roots []*CategoryNode
	ordered := make([]store.Category, len(snap.Categories))
	copy(ordered, snap.Categories)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RootID != ordered[j].RootID {
			return ordered[i].RootID < ordered[j].RootID
		}
		if ordered[i].SortOrder != ordered[j].SortOrder {
			return ordered[i].SortOrder < ordered[j].SortOrder
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, c := range ordered {
		node := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	if roots == nil {
		roots = []*CategoryNode{}
	}
	return CategoryAggregate{Categories: roots}
}

// writeJSON marshals v with stable indentation. Struct field order fixes the
// key order, so identical input yields identical bytes.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
