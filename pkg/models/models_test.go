package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func passingBlocking(t *testing.T) *Condition {
	t.Helper()
	c := NewCondition("tests pass", RoleBlocking)
	c.Approve()
	c.RecordCheckResult(CheckPass,
		EvidenceRef{TaskID: uuid.New(), ConditionID: c.ID, ArtifactPath: "a.json"},
		EvidenceSummary{Command: "go test ./...", ExitCode: 0, Timestamp: time.Now()},
	)
	return c
}

func TestCanMarkDone(t *testing.T) {
	task := &Task{ID: uuid.New(), Budget: NewBudget()}
	if !task.CanMarkDone() {
		t.Fatal("task with no conditions should be markable done")
	}

	good := passingBlocking(t)
	task.Conditions = []*Condition{good}
	if !task.CanMarkDone() {
		t.Fatal("approved+pass+evidenced blocking condition should allow done")
	}

	// A single unmet blocking condition vetoes completion.
	bad := NewCondition("manual review", RoleBlocking)
	bad.Approve()
	task.Conditions = append(task.Conditions, bad)
	if task.CanMarkDone() {
		t.Fatal("blocking condition without PASS must veto done")
	}

	// Signal and observer conditions never veto.
	task.Conditions = []*Condition{good, NewCondition("nice to have", RoleSignal), NewCondition("watch", RoleObserver)}
	if !task.CanMarkDone() {
		t.Fatal("signal/observer conditions must not veto done")
	}
}

func TestCanMarkDoneRequiresEvidence(t *testing.T) {
	c := NewCondition("build passes", RoleBlocking)
	c.Approve()
	c.CheckStatus = CheckPass // pass without evidence: still not done
	task := &Task{ID: uuid.New(), Budget: NewBudget(), Conditions: []*Condition{c}}
	if task.CanMarkDone() {
		t.Fatal("blocking condition without evidence must veto done")
	}
}

func TestRecordCheckResultRoundTrip(t *testing.T) {
	c := NewCondition("lint passes", RoleBlocking)
	if c.CheckStatus != CheckNotRun || c.EvidenceRef != nil || c.EvidenceSummary != nil {
		t.Fatal("fresh condition must be not_run with no evidence")
	}
	ref := EvidenceRef{TaskID: uuid.New(), ConditionID: c.ID, ArtifactPath: "x/y.json", LogPath: "x/y.log"}
	sum := EvidenceSummary{Command: "golangci-lint run", Cwd: "/w", ExitCode: 1, OutputTail: "boom", Timestamp: time.Now()}
	c.RecordCheckResult(CheckFail, ref, sum)
	if c.CheckStatus != CheckFail {
		t.Fatalf("status = %s, want fail", c.CheckStatus)
	}
	if c.EvidenceRef == nil || *c.EvidenceRef != ref {
		t.Fatalf("evidence ref not round-tripped: %+v", c.EvidenceRef)
	}
	if c.EvidenceSummary == nil || *c.EvidenceSummary != sum {
		t.Fatalf("evidence summary not round-tripped: %+v", c.EvidenceSummary)
	}
}

func TestBudgetExhaustion(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Budget)
		want   bool
	}{
		{"fresh", func(b *Budget) {}, false},
		{"iterations", func(b *Budget) { b.IterationCount = b.MaxIterations }, true},
		{"stagnation", func(b *Budget) { b.StagnationCount = b.StagnationLimit }, true},
		{"quality", func(b *Budget) { b.QualityLoopCount = b.QualityLoopLimit }, true},
		{"wall", func(b *Budget) { b.Elapsed = b.WallTimeLimit }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBudget()
			tc.mutate(b)
			if got := b.IsExhausted(); got != tc.want {
				t.Fatalf("IsExhausted() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBudgetRecordIteration(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBudget()
	b.SetClock(func() time.Time { return now })

	b.StartTracking()
	start := b.StartTimestamp
	now = now.Add(time.Hour)
	b.StartTracking() // second call must not move the start instant
	if !b.StartTimestamp.Equal(start) {
		t.Fatal("StartTracking must be idempotent in effect")
	}

	b.RecordIteration(false)
	if b.IterationCount != 1 || b.StagnationCount != 1 {
		t.Fatalf("counters = (%d,%d), want (1,1)", b.IterationCount, b.StagnationCount)
	}
	if b.Elapsed != time.Hour {
		t.Fatalf("elapsed = %s, want 1h", b.Elapsed)
	}

	b.RecordIteration(false)
	b.RecordIteration(true)
	if b.StagnationCount != 0 {
		t.Fatalf("progress must reset stagnation, got %d", b.StagnationCount)
	}

	// Monotonic: counters never decrease, so exhaustion never un-trips.
	b.IterationCount = b.MaxIterations
	if !b.IsExhausted() {
		t.Fatal("want exhausted")
	}
	b.RecordIteration(true)
	if !b.IsExhausted() {
		t.Fatal("exhaustion must be monotonic under non-decreasing counters")
	}
}

func TestAllPlanStepsDone(t *testing.T) {
	task := &Task{ID: uuid.New(), Budget: NewBudget()}
	if !task.AllPlanStepsDone() {
		t.Fatal("no plan means nothing left to do")
	}
	task.Plan = &Plan{Steps: []PlanStep{{Number: 1}, {Number: 2}}}
	if task.AllPlanStepsDone() {
		t.Fatal("plan with no iterations is not done")
	}
	task.AddIteration(Iteration{Number: 1})
	task.AddIteration(Iteration{Number: 2})
	if !task.AllPlanStepsDone() {
		t.Fatal("two iterations cover two steps")
	}
}
