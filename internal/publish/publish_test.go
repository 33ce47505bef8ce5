package publish

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"
)

// The file transport shells out to git-upload-pack / git-receive-pack.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func deployFixture(t *testing.T) (remote string, workdir string, publicDir string) {
	t.Helper()
	remote = filepath.Join(t.TempDir(), "pages.git")
	_, err := git.PlainInit(remote, true)
	require.NoError(t, err)

	workdir = t.TempDir()
	publicDir = filepath.Join(workdir, "public")
	require.NoError(t, os.MkdirAll(publicDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(publicDir, "index.html"), []byte("<html>v1</html>"), 0o644))
	return remote, workdir, publicDir
}

func pagesFor(remote, cname string) *Pages {
	return NewPages(Config{
		RemoteURL: remote,
		Branch:    "gh-pages",
		CNAME:     cname,
		UserName:  "ghost-bot",
		UserEmail: "ghost-bot@example.org",
	})
}

func branchTip(t *testing.T, remote string) (*git.Repository, plumbing.Hash) {
	t.Helper()
	repo, err := git.PlainOpen(remote)
	require.NoError(t, err)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("gh-pages"), true)
	require.NoError(t, err)
	return repo, ref.Hash()
}

func fileInCommit(t *testing.T, repo *git.Repository, hash plumbing.Hash, name string) (string, bool) {
	t.Helper()
	commit, err := repo.CommitObject(hash)
	require.NoError(t, err)
	tree, err := commit.Tree()
	require.NoError(t, err)
	f, err := tree.File(name)
	if err != nil {
		return "", false
	}
	content, err := f.Contents()
	require.NoError(t, err)
	return content, true
}

func TestDeploy_FirstPushCreatesBranch(t *testing.T) {
	requireGit(t)
	remote, workdir, publicDir := deployFixture(t)

	p := pagesFor(remote, "books.example.org")
	rev, err := p.Deploy(context.Background(), publicDir, workdir, time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotEmpty(t, rev)

	repo, tip := branchTip(t, remote)
	require.Equal(t, rev, tip.String())

	html, ok := fileInCommit(t, repo, tip, "index.html")
	require.True(t, ok)
	require.Equal(t, "<html>v1</html>", html)

	_, ok = fileInCommit(t, repo, tip, ".nojekyll")
	require.True(t, ok, "pages deploys always carry .nojekyll")

	cname, ok := fileInCommit(t, repo, tip, "CNAME")
	require.True(t, ok)
	require.Equal(t, "books.example.org\n", cname)

	commit, err := repo.CommitObject(tip)
	require.NoError(t, err)
	require.Equal(t, "Deploy 2024-04-01T12:00:00Z", commit.Message)
}

func TestDeploy_UnchangedTreeMakesNoCommit(t *testing.T) {
	requireGit(t)
	remote, workdir, publicDir := deployFixture(t)
	p := pagesFor(remote, "")
	ctx := context.Background()

	rev1, err := p.Deploy(ctx, publicDir, workdir, time.Now())
	require.NoError(t, err)

	rev2, err := p.Deploy(ctx, publicDir, workdir, time.Now())
	require.NoError(t, err)
	require.Equal(t, rev1, rev2, "identical output must reuse the existing revision")

	repo, tip := branchTip(t, remote)
	require.Equal(t, rev1, tip.String())
	commit, err := repo.CommitObject(tip)
	require.NoError(t, err)
	require.Zero(t, commit.NumParents(), "still the initial deploy commit")
}

func TestDeploy_ChangedTreeExtendsHistory(t *testing.T) {
	requireGit(t)
	remote, workdir, publicDir := deployFixture(t)
	p := pagesFor(remote, "")
	ctx := context.Background()

	rev1, err := p.Deploy(ctx, publicDir, workdir, time.Now())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(publicDir, "index.html"), []byte("<html>v2</html>"), 0o644))
	rev2, err := p.Deploy(ctx, publicDir, workdir, time.Now())
	require.NoError(t, err)
	require.NotEqual(t, rev1, rev2)

	repo, tip := branchTip(t, remote)
	commit, err := repo.CommitObject(tip)
	require.NoError(t, err)
	require.Equal(t, 1, commit.NumParents(), "history on the hosting branch is preserved")

	html, ok := fileInCommit(t, repo, tip, "index.html")
	require.True(t, ok)
	require.Equal(t, "<html>v2</html>", html)
}

func TestDeploy_RemovedFileDisappearsFromBranch(t *testing.T) {
	requireGit(t)
	remote, workdir, publicDir := deployFixture(t)
	stale := filepath.Join(publicDir, "stale.html")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	p := pagesFor(remote, "")
	ctx := context.Background()
	_, err := p.Deploy(ctx, publicDir, workdir, time.Now())
	require.NoError(t, err)

	require.NoError(t, os.Remove(stale))
	_, err = p.Deploy(ctx, publicDir, workdir, time.Now())
	require.NoError(t, err)

	repo, tip := branchTip(t, remote)
	_, ok := fileInCommit(t, repo, tip, "stale.html")
	require.False(t, ok)
}

func TestDeploy_MissingPublicDirFails(t *testing.T) {
	remote := filepath.Join(t.TempDir(), "pages.git")
	p := pagesFor(remote, "")
	_, err := p.Deploy(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir(), time.Now())
	require.Error(t, err)
}

func TestNoop_Deploy(t *testing.T) {
	rev, err := Noop{}.Deploy(context.Background(), "", "", time.Time{})
	require.NoError(t, err)
	require.Empty(t, rev)
}
