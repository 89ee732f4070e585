// Package gitx wraps the git CLI for the engine's workspace operations:
// worktree diffs for the final result, and stash-based rollback across a
// multi-repository workspace.
package gitx

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// DiffResult captures the uncommitted state of one repository.
type DiffResult struct {
	Diff         string   `json:"diff"`
	Patch        string   `json:"patch"`
	FilesChanged []string `json:"files_changed"`
	Insertions   int      `json:"insertions"`
	Deletions    int      `json:"deletions"`
}

var (
	insertionsRe = regexp.MustCompile(`(\d+) insertion`)
	deletionsRe  = regexp.MustCompile(`(\d+) deletion`)
)

// WorktreeDiff returns the staged plus unstaged changes against HEAD, scoped
// to the repository directory. A non-git directory yields an empty result,
// not an error; a repository without commits reports its untracked files.
func WorktreeDiff(ctx context.Context, repoPath string) (DiffResult, error) {
	if !IsGitRepo(ctx, repoPath) {
		return DiffResult{}, nil
	}
	if !hasHead(ctx, repoPath) {
		files, err := runGit(ctx, repoPath, "ls-files", "--others", "--exclude-standard")
		if err != nil {
			return DiffResult{}, err
		}
		changed := splitLines(files)
		return DiffResult{
			Diff:         fmt.Sprintf("# New repository - %d untracked files", len(changed)),
			FilesChanged: changed,
		}, nil
	}

	diff, err := runGit(ctx, repoPath, "diff", "HEAD", "--", ".")
	if err != nil {
		return DiffResult{}, err
	}
	patch, err := runGit(ctx, repoPath, "diff", "HEAD", "--patch", "--", ".")
	if err != nil {
		return DiffResult{}, err
	}
	stats, err := runGit(ctx, repoPath, "diff", "HEAD", "--stat", "--", ".")
	if err != nil {
		return DiffResult{}, err
	}
	files, err := runGit(ctx, repoPath, "diff", "HEAD", "--name-only", "--", ".")
	if err != nil {
		return DiffResult{}, err
	}

	return DiffResult{
		Diff:         diff,
		Patch:        patch,
		FilesChanged: splitLines(files),
		Insertions:   parseCount(insertionsRe, stats),
		Deletions:    parseCount(deletionsRe, stats),
	}, nil
}

// IsGitRepo reports whether path is inside a git repository.
func IsGitRepo(ctx context.Context, path string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = path
	return cmd.Run() == nil
}

func hasHead(ctx context.Context, path string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = path
	return cmd.Run() == nil
}

func runGit(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr)
	}
	return string(out), nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func parseCount(re *regexp.Regexp, stats string) int {
	m := re.FindStringSubmatch(stats)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
