package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func initRepo(t *testing.T, dir string) {
	t.Helper()
	mustGit(t, dir, "init", "-q")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-q", "-m", "initial")
}

func TestWorktreeDiff(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)

	// Clean tree: empty diff.
	d, err := WorktreeDiff(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if d.Diff != "" || len(d.FilesChanged) != 0 {
		t.Fatalf("clean tree should have empty diff, got %+v", d)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err = WorktreeDiff(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.FilesChanged) != 1 || d.FilesChanged[0] != "a.txt" {
		t.Fatalf("files changed = %v", d.FilesChanged)
	}
	if d.Insertions != 1 || d.Deletions != 0 {
		t.Fatalf("stats = +%d/-%d, want +1/-0", d.Insertions, d.Deletions)
	}
	if !strings.Contains(d.Diff, "+two") {
		t.Fatalf("diff missing change: %q", d.Diff)
	}
}

func TestWorktreeDiffNonRepo(t *testing.T) {
	d, err := WorktreeDiff(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if d.Diff != "" || d.Patch != "" || len(d.FilesChanged) != 0 {
		t.Fatalf("non-repo must yield empty result, got %+v", d)
	}
}

func TestWorktreeDiffEmptyRepo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mustGit(t, dir, "init", "-q")
	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := WorktreeDiff(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.FilesChanged) != 1 || d.FilesChanged[0] != "new.txt" {
		t.Fatalf("files = %v, want the untracked file", d.FilesChanged)
	}
	if !strings.Contains(d.Diff, "New repository") {
		t.Fatalf("diff = %q", d.Diff)
	}
}

func TestDiscoverWorkspace(t *testing.T) {
	ctx := context.Background()

	// Root is itself a repo.
	single := t.TempDir()
	initRepo(t, single)
	ws, err := DiscoverWorkspace(ctx, single)
	if err != nil {
		t.Fatal(err)
	}
	if !ws.IsSingleRepo() {
		t.Fatalf("want single-repo workspace, got %+v", ws)
	}

	// Root contains two repos and one plain directory.
	multi := t.TempDir()
	for _, name := range []string{"alpha", "beta"} {
		sub := filepath.Join(multi, name)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		initRepo(t, sub)
	}
	if err := os.MkdirAll(filepath.Join(multi, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	ws, err = DiscoverWorkspace(ctx, multi)
	if err != nil {
		t.Fatal(err)
	}
	if len(ws.Repos) != 2 || ws.IsSingleRepo() {
		t.Fatalf("repos = %v", ws.Repos)
	}
}

func TestStashAllAndPopAll(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ws := &Workspace{Root: dir, Repos: []string{dir}}

	if err := ws.StashAll(ctx, "test stash"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dirty.txt")); !os.IsNotExist(err) {
		t.Fatal("stash must remove the untracked file from the worktree")
	}

	if err := ws.PopAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dirty.txt")); err != nil {
		t.Fatal("pop must restore the file")
	}

	// Clean repo: both are no-ops.
	mustGit(t, dir, "stash", "push", "-u", "-m", "clear")
	if err := ws.StashAll(ctx, "noop"); err != nil {
		t.Fatal(err)
	}
}

func TestRollbackAll(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("mutated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ws := &Workspace{Root: dir, Repos: []string{dir}}
	if err := ws.RollbackAll(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\n" {
		t.Fatalf("rollback must restore committed content, got %q", data)
	}
}
