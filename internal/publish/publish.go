// Package publish pushes the rendered output tree to a hosting branch.
//
// The deploy checkout is rebuilt from scratch in a hidden directory under the
// work dir: fetch the hosting branch when it exists, replace the worktree with
// the rendered tree, commit and push. An unchanged tree produces no commit.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/ghostpub/ghostd/internal/logfields"
)

// deployDirName is the hidden checkout under the work directory.
const deployDirName = ".ghost-pages-deploy"

// Config holds publisher settings.
type Config struct {
	RemoteURL string
	Branch    string
	CNAME     string
	ForcePush bool
	UserName  string
	UserEmail string
}

// Pages publishes a rendered public directory to a hosting branch.
type Pages struct {
	cfg Config
}

// NewPages creates a publisher.
func NewPages(cfg Config) *Pages {
	if cfg.Branch == "" {
		cfg.Branch = "gh-pages"
	}
	return &Pages{cfg: cfg}
}

// Deploy stages publicDir onto the hosting branch and pushes. It returns the
// resulting revision id; when nothing changed, the existing HEAD revision is
// returned without creating a commit. buildStart feeds the deterministic
// commit message.
func (p *Pages) Deploy(ctx context.Context, publicDir, workdir string, buildStart time.Time) (string, error) {
	if _, err := os.Stat(publicDir); err != nil {
		return "", fmt.Errorf("public dir not found: %w", err)
	}

	deployRoot := filepath.Join(workdir, deployDirName)
	if err := os.RemoveAll(deployRoot); err != nil {
		return "", fmt.Errorf("clean deploy dir: %w", err)
	}
	if err := os.MkdirAll(deployRoot, 0o755); err != nil {
		return "", fmt.Errorf("create deploy dir: %w", err)
	}

	repo, err := git.PlainInit(deployRoot, false)
	if err != nil {
		return "", fmt.Errorf("init deploy repo: %w", err)
	}
	if _, err := repo.CreateRemote(&gitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{p.cfg.RemoteURL},
	}); err != nil {
		return "", fmt.Errorf("add remote: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(p.cfg.Branch)
	baseHash, err := p.fetchBranch(ctx, repo, branchRef)
	if err != nil {
		return "", err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	// Point HEAD at the hosting branch before touching the worktree so the
	// commit lands on the right ref, history preserved when it exists.
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return "", fmt.Errorf("set HEAD: %w", err)
	}
	if baseHash != plumbing.ZeroHash {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, baseHash)); err != nil {
			return "", fmt.Errorf("set branch ref: %w", err)
		}
		if err := worktree.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: baseHash}); err != nil {
			return "", fmt.Errorf("reset to fetched branch: %w", err)
		}
	}

	if err := wipeWorktree(deployRoot); err != nil {
		return "", err
	}
	if err := copyTree(publicDir, deployRoot); err != nil {
		return "", fmt.Errorf("stage rendered tree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(deployRoot, ".nojekyll"), nil, 0o644); err != nil {
		return "", fmt.Errorf("write .nojekyll: %w", err)
	}
	if p.cfg.CNAME != "" {
		if err := os.WriteFile(filepath.Join(deployRoot, "CNAME"), []byte(p.cfg.CNAME+"\n"), 0o644); err != nil {
			return "", fmt.Errorf("write CNAME: %w", err)
		}
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	if status.IsClean() {
		if baseHash == plumbing.ZeroHash {
			// Empty remote and empty output: nothing to publish.
			return "", nil
		}
		slog.Info("Publish: no content changes", slog.String("commit", baseHash.String()[:8]))
		return baseHash.String(), nil
	}

	sig := &object.Signature{Name: p.cfg.UserName, Email: p.cfg.UserEmail, When: time.Now()}
	msg := fmt.Sprintf("Deploy %s", buildStart.UTC().Format(time.RFC3339))
	commitHash, err := worktree.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	pushOpts := &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitcfg.RefSpec{gitcfg.RefSpec(branchRef + ":" + branchRef)},
		Force:      p.cfg.ForcePush,
	}
	if err := repo.PushContext(ctx, pushOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("push %s: %w", p.cfg.Branch, err)
	}

	slog.Info("Published rendered site",
		slog.String("branch", p.cfg.Branch),
		slog.String("commit", commitHash.String()[:8]))
	return commitHash.String(), nil
}

// fetchBranch fetches the hosting branch if the remote has it; a missing
// branch or empty remote yields ZeroHash and a fresh history.
func (p *Pages) fetchBranch(ctx context.Context, repo *git.Repository, branchRef plumbing.ReferenceName) (plumbing.Hash, error) {
	remoteRef := plumbing.NewRemoteReferenceName("origin", p.cfg.Branch)
	spec := gitcfg.RefSpec(fmt.Sprintf("+%s:%s", branchRef, remoteRef))

	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitcfg.RefSpec{spec},
		Depth:      1,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return plumbing.ZeroHash, nil
	default:
		// Treat "branch does not exist yet" like an empty remote; the first
		// push creates it.
		var noMatch git.NoMatchingRefSpecError
		if errors.As(err, &noMatch) {
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, fmt.Errorf("fetch %s: %w", p.cfg.Branch, err)
	}

	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve fetched branch: %w", err)
	}
	return ref.Hash(), nil
}

// wipeWorktree removes everything except the .git directory.
func wipeWorktree(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read deploy dir: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return fmt.Errorf("wipe worktree: %w", err)
		}
	}
	return nil
}

// copyTree copies the contents of src into dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Noop is the integrated-mode publisher: output is served directly from the
// work directory, so publishing does nothing.
type Noop struct{}

// Deploy implements the same contract as Pages.Deploy and does nothing.
func (Noop) Deploy(context.Context, string, string, time.Time) (string, error) {
	slog.Debug("Integrated deploy mode, skipping publish", logfields.Stage("publish"))
	return "", nil
}
