package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/internal/checks"
	"github.com/exiw-ai/proofloop/internal/gitx"
	"github.com/exiw-ai/proofloop/internal/state"
	"github.com/exiw-ai/proofloop/internal/supervise"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// fakeAgent answers each engine prompt by pattern and mutates the workspace
// on delivery turns like a real coding agent would.
type fakeAgent struct {
	workspace      string
	passAfter      int // delivery attempt after which done.marker appears
	noWrites       bool
	deliveries     int
	refines        int
	lastPlanPrompt string
}

func (f *fakeAgent) Name() string { return "fake" }

func (f *fakeAgent) Execute(_ context.Context, req agent.Request, emit func(agent.Message)) (agent.Result, error) {
	p := req.Prompt
	switch {
	case strings.Contains(p, "Analyze the project at"):
		return agent.Result{FinalText: `{"structure": {"root_files": ["work.txt"]}, "commands": {"test": "test -f done.marker"}, "conventions": ["plain shell"], "frameworks": []}`}, nil
	case strings.Contains(p, "Select the MINIMUM automatic"):
		return agent.Result{FinalText: `{"selected_checks": ["test"], "modified_commands": {}, "reasoning": "code change"}`}, nil
	case strings.Contains(p, "propose 1-3 KEY acceptance conditions"):
		return agent.Result{FinalText: `{"conditions": [], "reasoning": "automatic check covers it"}`}, nil
	case strings.Contains(p, "Refine the execution plan"):
		f.refines++
		fallthrough
	case strings.Contains(p, "Create an execution plan"):
		f.lastPlanPrompt = p
		return agent.Result{FinalText: `{"goal": "create the marker", "approach": "touch the marker file", "boundaries": [], "steps": [{"number": 1, "description": "create done.marker", "target_files": ["done.marker"]}], "risks": [], "assumptions": [], "replan_conditions": []}`}, nil
	case strings.Contains(p, "Review the changes"):
		return agent.Result{FinalText: "QUALITY_OK"}, nil
	case strings.Contains(p, "INDEPENDENT VERIFIER"):
		return agent.Result{FinalText: "verified\nCONDITION_PASS"}, nil
	case strings.Contains(p, "Complete the following task"), strings.Contains(p, "You are continuing work"):
		f.deliveries++
		if f.noWrites {
			return agent.Result{FinalText: "nothing to do"}, nil
		}
		work := filepath.Join(f.workspace, "work.txt")
		if err := appendLine(work, fmt.Sprintf("attempt %d", f.deliveries)); err != nil {
			return agent.Result{}, err
		}
		if emit != nil {
			emit(agent.Message{Type: "tool_use", Tool: "Bash", Input: "echo attempt >> work.txt"})
		}
		if f.deliveries >= f.passAfter {
			if err := os.WriteFile(filepath.Join(f.workspace, "done.marker"), []byte("ok\n"), 0o644); err != nil {
				return agent.Result{}, err
			}
		}
		return agent.Result{FinalText: "steps complete"}, nil
	}
	return agent.Result{FinalText: "ok"}, nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustGit(t, dir, "init")
	if err := os.WriteFile(filepath.Join(dir, "work.txt"), []byte("initial\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-m", "initial")
	return dir
}

func newOrchestrator(t *testing.T, a agent.Agent) *Orchestrator {
	t.Helper()
	stateDir := t.TempDir()
	return New(a, state.NewTaskRepo(stateDir), state.NewEvidenceStore(stateDir), &checks.Runner{})
}

func TestRunFailThenPassEndsDone(t *testing.T) {
	ws := newWorkspace(t)
	fake := &fakeAgent{workspace: ws, passAfter: 2}
	o := newOrchestrator(t, fake)

	result, err := o.Run(context.Background(), models.TaskInput{
		Description:   "create the marker file",
		WorkspacePath: ws,
		AutoApprove:   true,
		MaxIterations: 10,
	}, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusDone {
		t.Fatalf("status = %s (stopped: %q)", result.Status, result.StoppedReason)
	}

	task, err := o.Repo.Load(result.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(task.Iterations) != 2 {
		t.Fatalf("iterations = %d, want 2", len(task.Iterations))
	}
	if task.Iterations[0].Decision != models.DecisionContinue {
		t.Errorf("iteration 1 decision = %s", task.Iterations[0].Decision)
	}
	if task.Iterations[1].Decision != models.DecisionDone {
		t.Errorf("iteration 2 decision = %s", task.Iterations[1].Decision)
	}
	if len(result.EvidenceRefs) == 0 {
		t.Error("expected evidence refs on the final result")
	}
	for _, c := range result.Conditions {
		if c.Role == models.RoleBlocking && c.CheckStatus != models.CheckPass {
			t.Errorf("blocking condition %q not passing: %s", c.Description, c.CheckStatus)
		}
	}
}

func TestRunWithoutApproverBlocks(t *testing.T) {
	ws := newWorkspace(t)
	fake := &fakeAgent{workspace: ws, passAfter: 1}
	o := newOrchestrator(t, fake)

	result, err := o.Run(context.Background(), models.TaskInput{
		Description:   "create the marker file",
		WorkspacePath: ws,
	}, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusBlocked {
		t.Fatalf("status = %s", result.Status)
	}
	if !strings.Contains(result.BlockedReason, "requires approval") {
		t.Fatalf("blocked reason = %q", result.BlockedReason)
	}
	if fake.deliveries != 0 {
		t.Fatalf("delivery must not run without approval, got %d attempts", fake.deliveries)
	}
}

type scriptedApprover struct {
	responses []ApprovalResponse
	calls     int
}

func (s *scriptedApprover) ReviewPlan(*models.Plan, []*models.Condition) (ApprovalResponse, error) {
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func TestRunRefinesPlanOnFeedback(t *testing.T) {
	ws := newWorkspace(t)
	fake := &fakeAgent{workspace: ws, passAfter: 1}
	o := newOrchestrator(t, fake)

	approver := &scriptedApprover{responses: []ApprovalResponse{
		{Approved: false, Feedback: "split the first step"},
		{Approved: true},
	}}
	result, err := o.Run(context.Background(), models.TaskInput{
		Description:   "create the marker file",
		WorkspacePath: ws,
		MaxIterations: 10,
	}, Callbacks{Approver: approver})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusDone {
		t.Fatalf("status = %s", result.Status)
	}
	if fake.refines != 1 || approver.calls != 2 {
		t.Fatalf("refines = %d, approver calls = %d", fake.refines, approver.calls)
	}
	task, err := o.Repo.Load(result.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Plan.Version != 2 || !task.Plan.Approved {
		t.Fatalf("plan version = %d approved = %v", task.Plan.Version, task.Plan.Approved)
	}
}

func TestRunRejectWithoutFeedbackBlocks(t *testing.T) {
	ws := newWorkspace(t)
	fake := &fakeAgent{workspace: ws, passAfter: 1}
	o := newOrchestrator(t, fake)

	approver := &scriptedApprover{responses: []ApprovalResponse{{Approved: false}}}
	result, err := o.Run(context.Background(), models.TaskInput{
		Description:   "create the marker file",
		WorkspacePath: ws,
	}, Callbacks{Approver: approver})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusBlocked {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestRunNoChangesStops(t *testing.T) {
	ws := newWorkspace(t)
	fake := &fakeAgent{workspace: ws, passAfter: 99, noWrites: true}
	o := newOrchestrator(t, fake)

	result, err := o.Run(context.Background(), models.TaskInput{
		Description:   "create the marker file",
		WorkspacePath: ws,
		AutoApprove:   true,
		MaxIterations: 10,
	}, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusStopped {
		t.Fatalf("status = %s", result.Status)
	}
	if result.StoppedReason != "No changes made, stopping" {
		t.Fatalf("stopped reason = %q", result.StoppedReason)
	}
	task, err := o.Repo.Load(result.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(task.Iterations) != 1 {
		t.Fatalf("iterations = %d, want 1", len(task.Iterations))
	}
}

// TestRunRepeatedFailureStopsLoop drives the delivery loop with an agent that
// keeps changing files while the same check keeps failing. The run must stop
// at the loop limit, not grind on until the iteration budget runs out.
func TestRunRepeatedFailureStopsLoop(t *testing.T) {
	ws := newWorkspace(t)
	fake := &fakeAgent{workspace: ws, passAfter: 99}
	o := newOrchestrator(t, fake)

	result, err := o.Run(context.Background(), models.TaskInput{
		Description:   "create the marker file",
		WorkspacePath: ws,
		AutoApprove:   true,
		MaxIterations: 30,
	}, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusStopped {
		t.Fatalf("status = %s", result.Status)
	}
	if !strings.Contains(result.StoppedReason, "Same error pattern repeated") {
		t.Fatalf("stopped reason = %q", result.StoppedReason)
	}

	task, err := o.Repo.Load(result.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(task.Iterations); got > supervise.DefaultLoopLimit+1 {
		t.Fatalf("iterations = %d, want at most %d", got, supervise.DefaultLoopLimit+1)
	}
	if task.Budget.IsExhausted() {
		t.Error("loop detection must fire before the budget runs out")
	}
}

// erringAgent fails every turn, standing in for an agent backend outage.
type erringAgent struct{}

func (erringAgent) Name() string { return "erring" }

func (erringAgent) Execute(context.Context, agent.Request, func(agent.Message)) (agent.Result, error) {
	return agent.Result{}, fmt.Errorf("agent backend unavailable")
}

// TestRollbackRetryFailureRestoresStash covers the rollback path when the
// fresh attempt itself errors: the stashed work must come back so a resumed
// run does not start from a bare tree.
func TestRollbackRetryFailureRestoresStash(t *testing.T) {
	ws := newWorkspace(t)
	if err := appendLine(filepath.Join(ws, "work.txt"), "in progress"); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(t, erringAgent{})
	wsp, err := gitx.DiscoverWorkspace(context.Background(), ws)
	if err != nil {
		t.Fatal(err)
	}
	o.workspace = wsp

	cond := models.NewCondition("test passes", models.RoleBlocking)
	cond.Approve()
	task := &models.Task{
		ID:          uuid.New(),
		Description: "create the marker file",
		Sources:     []string{ws},
		Status:      models.StatusExecuting,
		Conditions:  []*models.Condition{cond},
		Budget:      models.NewBudget(),
	}
	prev := models.Iteration{
		Number:       1,
		Changes:      []string{"work.txt"},
		CheckResults: map[uuid.UUID]models.CheckStatus{cond.ID: models.CheckFail},
		Decision:     models.DecisionContinue,
	}
	task.AddIteration(prev)

	// One prior sighting of this failure; the retry below makes it two,
	// which selects a rollback.
	o.supervisor.Analyze(task, &prev)

	if _, err := o.handleRetry(context.Background(), task, &prev); err == nil {
		t.Fatal("expected the delivery error to propagate")
	}

	data, err := os.ReadFile(filepath.Join(ws, "work.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "in progress") {
		t.Errorf("stashed change not restored, work.txt = %q", data)
	}
}

func TestResumeFromExecuting(t *testing.T) {
	ws := newWorkspace(t)
	fake := &fakeAgent{workspace: ws, passAfter: 1}
	o := newOrchestrator(t, fake)

	check := models.CheckSpec{ID: uuid.New(), Name: "test", Kind: models.CheckKindTest, Command: "test -f done.marker", Cwd: ws}
	cond := models.NewCondition("test passes", models.RoleBlocking)
	id := check.ID
	cond.CheckID = &id
	cond.Approve()

	task := &models.Task{
		ID:          uuid.New(),
		Description: "create the marker file",
		Sources:     []string{ws},
		Status:      models.StatusExecuting,
		Inventory:   &models.VerificationInventory{Checks: []models.CheckSpec{check}},
		Conditions:  []*models.Condition{cond},
		Plan: &models.Plan{
			Goal:     "create the marker",
			Steps:    []models.PlanStep{{Number: 1, Description: "create done.marker"}},
			Version:  1,
			Approved: true,
		},
		Budget: models.NewBudget(),
	}
	if err := o.Repo.Save(task); err != nil {
		t.Fatal(err)
	}

	result, err := o.Resume(context.Background(), task, models.TaskInput{
		Description:   task.Description,
		WorkspacePath: ws,
		AutoApprove:   true,
	}, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusDone {
		t.Fatalf("status = %s (stopped: %q)", result.Status, result.StoppedReason)
	}
}
