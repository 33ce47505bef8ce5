package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreate_SkipsWithoutRecipient(t *testing.T) {
	res := Create(context.Background(), Config{DBPath: "/tmp/db", Dir: t.TempDir()})
	require.True(t, res.Skipped)
	require.Equal(t, "no encryption recipient configured", res.Reason)
}

func TestCreate_SkipsWhenBinaryMissing(t *testing.T) {
	res := Create(context.Background(), Config{
		DBPath:    "/tmp/db",
		Dir:       t.TempDir(),
		Recipient: "age1example",
		AgeBin:    "definitely-not-a-real-binary",
	})
	require.True(t, res.Skipped)
	require.Contains(t, res.Reason, "not found in PATH")
}

func TestCreate_SkipsWhenDatabaseMissing(t *testing.T) {
	// A shell stand-in for the encryption binary keeps the test hermetic.
	bin := writeFakeAge(t)
	res := Create(context.Background(), Config{
		DBPath:    filepath.Join(t.TempDir(), "missing.db"),
		Dir:       t.TempDir(),
		Recipient: "age1example",
		AgeBin:    bin,
	})
	require.True(t, res.Skipped)
	require.Equal(t, "database file not found", res.Reason)
}

func TestCreate_ProducesTimestampedSnapshot(t *testing.T) {
	bin := writeFakeAge(t)
	dbPath := filepath.Join(t.TempDir(), "ghost.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite-bytes"), 0o644))
	dir := t.TempDir()

	res := Create(context.Background(), Config{
		DBPath:    dbPath,
		Dir:       dir,
		Recipient: "age1example",
		AgeBin:    bin,
	})
	require.False(t, res.Skipped)
	require.FileExists(t, res.OutputPath)
	require.Equal(t, dir, filepath.Dir(res.OutputPath))
	require.Contains(t, filepath.Base(res.OutputPath), "ghost-db-")
	require.Contains(t, filepath.Base(res.OutputPath), ".db.age")
}

func TestRestore_SkipsWithoutIdentity(t *testing.T) {
	bin := writeFakeAge(t)
	res := Restore(context.Background(), bin, "", "in.age", filepath.Join(t.TempDir(), "out.db"))
	require.True(t, res.Skipped)
	require.Equal(t, "no identity file configured", res.Reason)
}

// writeFakeAge installs an executable that mimics age's -o flag handling.
func writeFakeAge(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "age")
	script := `#!/bin/sh
out=""
while [ $# -gt 1 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
cp "$1" "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}
