// Package renderer invokes the external static-site generator.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/site"
)

// DefaultTimeout bounds a single renderer invocation.
const DefaultTimeout = 10 * time.Minute

// Hugo runs the hugo binary against a prepared work directory.
type Hugo struct {
	Bin     string
	Timeout time.Duration
}

// NewHugo creates a runner for the given binary name or path.
func NewHugo(bin string) *Hugo {
	if bin == "" {
		bin = "hugo"
	}
	return &Hugo{Bin: bin, Timeout: DefaultTimeout}
}

// Render builds the public site into the workdir's public directory. A
// non-zero exit is a fatal pipeline failure for the caller.
func (h *Hugo) Render(ctx context.Context, w *site.Workdir) error {
	if err := os.MkdirAll(w.PublicDir, 0o755); err != nil {
		return fmt.Errorf("create public dir: %w", err)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, h.Bin,
		"-s", w.Root,
		"-d", w.PublicDir,
		"--cleanDestinationDir",
	)
	cmd.Env = append(os.Environ(), "HUGO_ENV=production")

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	slog.Info("Running renderer", logfields.Path(w.Root), slog.String("bin", h.Bin))
	if err := cmd.Run(); err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("renderer timed out after %s", timeout)
		}
		return fmt.Errorf("renderer failed: %w: %s", err, tail(output.String(), 2048))
	}

	slog.Info("Renderer finished",
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
