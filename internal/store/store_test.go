package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTest(t *testing.T) Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetRun(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	run := Run{
		TaskID:         "abc123",
		Description:    "add retry logic",
		Status:         "executing",
		IterationCount: 2,
		Workspace:      "/w",
	}
	if err := s.UpsertRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRun(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != run.Description || got.Status != "executing" || got.IterationCount != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("timestamps must be filled in")
	}

	// Upsert with the same id updates in place.
	run.Status = "done"
	run.IterationCount = 5
	if err := s.UpsertRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetRun(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "done" || got.IterationCount != 5 {
		t.Fatalf("after update: %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTest(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		run := Run{
			TaskID:      id,
			Description: "task " + id,
			Status:      "done",
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := s.UpsertRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}

	runs, err = s.ListRuns(ctx, 0) // default limit
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3", len(runs))
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}
	// Reopening must not re-run applied migrations.
	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = s2.Close()
}
