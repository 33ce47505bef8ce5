// Package covers mirrors external cover images into the work directory.
//
// Localization is best-effort: any fetch failure is logged and skipped so it
// never aborts the surrounding build.
package covers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/metrics"
	"github.com/ghostpub/ghostd/internal/store"
)

const userAgent = "Ghost/1.0"

// maxCoverBytes caps a single download; covers larger than this are skipped.
const maxCoverBytes = 20 << 20

// extByContentType maps accepted image content types to file extensions.
var extByContentType = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/avif": "avif",
}

// Store is the subset of the store the localizer writes through.
type Store interface {
	CoverCandidates(ctx context.Context, refresh bool) ([]store.CoverCandidate, error)
	SetCoverPath(ctx context.Context, itemID int64, path string) error
}

// Localizer downloads remote covers into a covers directory.
type Localizer struct {
	store        Store
	client       *http.Client
	dir          string // absolute covers directory
	relPrefix    string // path recorded on the item, relative to static/
	fetchTimeout time.Duration
	parallelism  int
	recorder     metrics.Recorder
}

// New creates a Localizer writing under dir. relPrefix is what gets recorded
// on the item (e.g. "assets/covers").
func New(s Store, dir, relPrefix string, fetchTimeout time.Duration, parallelism int, rec metrics.Recorder) *Localizer {
	if parallelism <= 0 {
		parallelism = 1
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Localizer{
		store:        s,
		client:       &http.Client{},
		dir:          dir,
		relPrefix:    relPrefix,
		fetchTimeout: fetchTimeout,
		parallelism:  parallelism,
		recorder:     rec,
	}
}

// Run fetches covers for items that have a remote source and no local copy.
// Fetches run with bounded parallelism, each with its own timeout. Returns the
// number of items updated.
func (l *Localizer) Run(ctx context.Context, refresh bool) (int, error) {
	candidates, err := l.store.CoverCandidates(ctx, refresh)
	if err != nil {
		return 0, fmt.Errorf("list cover candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create covers dir: %w", err)
	}

	var updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for _, c := range candidates {
		g.Go(func() error {
			ok := l.localizeOne(gctx, c)
			l.recorder.IncCoverFetch(ok)
			if ok {
				updated.Add(1)
			}
			// Per-item failures are absorbed; only context cancellation
			// stops the group.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return int(updated.Load()), err
	}
	return int(updated.Load()), nil
}

func (l *Localizer) localizeOne(ctx context.Context, c store.CoverCandidate) bool {
	parsed, err := url.Parse(strings.TrimSpace(c.CoverURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false
	}

	fctx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		slog.Info("Cover download failed", logfields.ItemID(c.ItemID), logfields.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Info("Cover download rejected",
			logfields.ItemID(c.ItemID),
			slog.Int("status", resp.StatusCode))
		return false
	}

	ext, ok := extByContentType[normalizeContentType(resp.Header.Get("Content-Type"))]
	if !ok {
		slog.Info("Cover has unsupported content type",
			logfields.ItemID(c.ItemID),
			slog.String("content_type", resp.Header.Get("Content-Type")))
		return false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes+1))
	if err != nil {
		slog.Info("Cover read failed", logfields.ItemID(c.ItemID), logfields.Error(err))
		return false
	}
	if len(data) > maxCoverBytes {
		slog.Info("Cover exceeds size limit", logfields.ItemID(c.ItemID))
		return false
	}

	name := fmt.Sprintf("%d.%s", c.ItemID, ext)
	if err := os.WriteFile(filepath.Join(l.dir, name), data, 0o644); err != nil {
		slog.Warn("Cover write failed", logfields.ItemID(c.ItemID), logfields.Error(err))
		return false
	}

	relPath := l.relPrefix + "/" + name
	if err := l.store.SetCoverPath(ctx, c.ItemID, relPath); err != nil {
		slog.Warn("Cover path write-back failed", logfields.ItemID(c.ItemID), logfields.Error(err))
		return false
	}

	slog.Debug("Cover localized", logfields.ItemID(c.ItemID), logfields.Path(relPath))
	return true
}

func normalizeContentType(ct string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
}
