package gitx

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// MaxScanDepth bounds nested repository discovery.
const MaxScanDepth = 3

// Workspace is the set of repositories a task may mutate. A workspace is
// either a single repository root or a directory containing several.
type Workspace struct {
	Root  string
	Repos []string
}

// IsSingleRepo reports whether the workspace root is itself the only repo.
func (w *Workspace) IsSingleRepo() bool {
	return len(w.Repos) == 1 && w.Repos[0] == w.Root
}

// DiscoverWorkspace finds the repositories under root. If root itself is a
// repository that is the whole answer; otherwise child directories are
// scanned to a bounded depth, skipping hidden directories and symlinks.
func DiscoverWorkspace(ctx context.Context, root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	repos := scanForRepos(abs, 0)
	slog.Info("discovered workspace", "root", abs, "repos", len(repos))
	return &Workspace{Root: abs, Repos: repos}, nil
}

func scanForRepos(path string, depth int) []string {
	if depth > MaxScanDepth {
		return nil
	}
	if info, err := os.Stat(filepath.Join(path, ".git")); err == nil && info.IsDir() {
		return []string{path}
	}
	if info, err := os.Lstat(path); err != nil || info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		slog.Warn("cannot scan directory", "path", path, "err", err)
		return nil
	}
	var repos []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		repos = append(repos, scanForRepos(filepath.Join(path, e.Name()), depth+1)...)
	}
	return repos
}

// StashAll stashes uncommitted changes, untracked files included, in every
// repository of the workspace in parallel. Repositories with nothing to
// stash are left alone.
func (w *Workspace) StashAll(ctx context.Context, message string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, repo := range w.Repos {
		repo := repo
		g.Go(func() error {
			status, err := runGit(ctx, repo, "status", "--porcelain")
			if err != nil {
				return err
			}
			if strings.TrimSpace(status) == "" {
				return nil
			}
			if _, err := runGit(ctx, repo, "stash", "push", "-u", "-m", message); err != nil {
				return err
			}
			slog.Info("stashed changes", "repo", repo)
			return nil
		})
	}
	return g.Wait()
}

// RollbackAll discards the current attempt by stashing it away in every
// repository. The stash entries are kept for post-mortem inspection.
func (w *Workspace) RollbackAll(ctx context.Context) error {
	return w.StashAll(ctx, "proofloop: rollback")
}

// PopAll restores the most recent stash in every repository that has one.
func (w *Workspace) PopAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, repo := range w.Repos {
		repo := repo
		g.Go(func() error {
			list, err := runGit(ctx, repo, "stash", "list")
			if err != nil {
				return err
			}
			if strings.TrimSpace(list) == "" {
				return nil
			}
			_, err = runGit(ctx, repo, "stash", "pop")
			return err
		})
	}
	return g.Wait()
}

// CombinedDiff concatenates per-repo diffs into one result. Single-repo
// workspaces pass through unchanged.
func (w *Workspace) CombinedDiff(ctx context.Context) (DiffResult, error) {
	var combined DiffResult
	for _, repo := range w.Repos {
		d, err := WorktreeDiff(ctx, repo)
		if err != nil {
			return DiffResult{}, err
		}
		prefix := ""
		if !w.IsSingleRepo() {
			rel, err := filepath.Rel(w.Root, repo)
			if err != nil {
				rel = filepath.Base(repo)
			}
			if d.Diff != "" {
				prefix = "# repo: " + rel + "\n"
			}
			for _, f := range d.FilesChanged {
				combined.FilesChanged = append(combined.FilesChanged, filepath.Join(rel, f))
			}
		} else {
			combined.FilesChanged = append(combined.FilesChanged, d.FilesChanged...)
		}
		combined.Diff += prefix + d.Diff
		combined.Patch += d.Patch
		combined.Insertions += d.Insertions
		combined.Deletions += d.Deletions
	}
	return combined, nil
}
