// Package backup produces encrypted snapshots of the content database using
// the age CLI.
//
// Backups are strictly best-effort: a missing recipient, missing binary or a
// failed process is reported as a skip, never as a pipeline failure.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghostpub/ghostd/internal/logfields"
)

// Result reports a backup or restore attempt.
type Result struct {
	Skipped    bool
	OutputPath string
	Reason     string
}

// Config holds what the producer needs.
type Config struct {
	DBPath    string
	Dir       string
	Recipient string
	AgeBin    string
}

// Create writes an encrypted copy of the database into the backup directory.
func Create(ctx context.Context, cfg Config) Result {
	if cfg.Recipient == "" {
		return skip("no encryption recipient configured")
	}
	ageBin := cfg.AgeBin
	if ageBin == "" {
		ageBin = "age"
	}
	if _, err := exec.LookPath(ageBin); err != nil {
		return skip(fmt.Sprintf("%q not found in PATH", ageBin))
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return skip("database file not found")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return skip(fmt.Sprintf("create backup dir: %v", err))
	}

	ts := time.Now().UTC().Format("20060102-150405Z")
	out := filepath.Join(cfg.Dir, fmt.Sprintf("ghost-db-%s.db.age", ts))

	cmd := exec.CommandContext(ctx, ageBin, "-r", cfg.Recipient, "-o", out, cfg.DBPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Warn("Encrypted backup failed",
			logfields.Error(err),
			slog.String("stderr", strings.TrimSpace(stderr.String())))
		return skip("age command failed")
	}

	slog.Info("Created encrypted database backup", logfields.Path(out))
	return Result{OutputPath: out}
}

// Restore decrypts an .age snapshot into outputPath using an identity file.
func Restore(ctx context.Context, ageBin, identityFile, inputPath, outputPath string) Result {
	if ageBin == "" {
		ageBin = "age"
	}
	if _, err := exec.LookPath(ageBin); err != nil {
		return skip(fmt.Sprintf("%q not found in PATH", ageBin))
	}
	if identityFile == "" {
		return skip("no identity file configured")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return skip(fmt.Sprintf("create output dir: %v", err))
	}

	cmd := exec.CommandContext(ctx, ageBin, "-d", "-i", identityFile, "-o", outputPath, inputPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Warn("Backup restore failed",
			logfields.Error(err),
			slog.String("stderr", strings.TrimSpace(stderr.String())))
		return skip("age command failed")
	}
	return Result{OutputPath: outputPath}
}

func skip(reason string) Result {
	slog.Info("Skipping encrypted backup", logfields.Reason(reason))
	return Result{Skipped: true, Reason: reason}
}
