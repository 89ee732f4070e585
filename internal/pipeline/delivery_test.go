package pipeline

import (
	"strings"
	"testing"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/internal/gate"
	"github.com/exiw-ai/proofloop/pkg/models"
)

func TestTail(t *testing.T) {
	if got := tail("short", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("abcdefgh", 3); got != "fgh" {
		t.Errorf("tail = %q", got)
	}
}

func TestCommandLog(t *testing.T) {
	log := &commandLog{}
	if got := log.formatForVerification(); got != "No commands were run during implementation." {
		t.Errorf("empty log = %q", got)
	}

	log.observe(agent.Message{Type: "tool_use", Tool: gate.ToolBash, Input: "make test"})
	log.observe(agent.Message{Type: "tool_use", Tool: gate.ToolRead, Input: "main.go"})
	log.observe(agent.Message{Type: "text", Text: "thinking"})
	log.observe(agent.Message{Type: "tool_use", Tool: gate.ToolBash, Input: "go vet ./..."})

	got := log.formatForVerification()
	if !strings.Contains(got, "1. make test") || !strings.Contains(got, "2. go vet ./...") {
		t.Errorf("log = %q", got)
	}
	if strings.Contains(got, "main.go") {
		t.Errorf("non-bash tool recorded: %q", got)
	}

	log.clear()
	if got := log.formatForVerification(); !strings.Contains(got, "No commands") {
		t.Errorf("after clear = %q", got)
	}
}

func TestFullPlanPromptWithoutPlan(t *testing.T) {
	o := &Orchestrator{}
	task := &models.Task{Description: "fix the bug", Sources: []string{"/tmp/ws"}}
	got := o.fullPlanPrompt(task)
	if got != "Complete the following task: fix the bug" {
		t.Errorf("prompt = %q", got)
	}
}

func TestFullPlanPromptListsStepsAndConditions(t *testing.T) {
	o := &Orchestrator{}
	cond := models.NewCondition("tests pass", models.RoleBlocking)
	task := &models.Task{
		Description: "add retries",
		Sources:     []string{"/tmp/ws"},
		Constraints: []string{"no new deps"},
		Conditions:  []*models.Condition{cond},
		Plan: &models.Plan{
			Goal:  "add retries",
			Steps: []models.PlanStep{{Number: 1, Description: "wrap the client"}},
		},
	}
	got := o.fullPlanPrompt(task)
	for _, want := range []string{"1. wrap the client", "no new deps", "- tests pass", "/tmp/ws"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRetryPromptCarriesFailureEvidence(t *testing.T) {
	o := &Orchestrator{}
	failed := models.NewCondition("test passes", models.RoleBlocking)
	failed.CheckStatus = models.CheckFail
	failed.EvidenceSummary = &models.EvidenceSummary{ExitCode: 2, OutputTail: "assertion failed at foo_test.go:12"}
	passed := models.NewCondition("lint passes", models.RoleBlocking)
	passed.CheckStatus = models.CheckPass

	task := &models.Task{
		Description: "fix the bug",
		Sources:     []string{"/tmp/ws"},
		Conditions:  []*models.Condition{failed, passed},
	}
	prev := &models.Iteration{
		Number:   1,
		Changes:  []string{"foo.go"},
		Decision: models.DecisionContinue,
		Reason:   "Checks not passing",
	}
	got := o.retryPrompt(task, prev, "same failure fingerprint twice")
	if !strings.Contains(got, "assertion failed at foo_test.go:12") || !strings.Contains(got, "Exit code: 2") {
		t.Errorf("missing failure evidence:\n%s", got)
	}
	if strings.Contains(got, "lint passes") {
		t.Errorf("passing condition listed as failed:\n%s", got)
	}
	if !strings.Contains(got, "## Supervisor note\nsame failure fingerprint twice") {
		t.Errorf("missing supervisor note:\n%s", got)
	}
	if !strings.Contains(got, "Files changed: foo.go") {
		t.Errorf("missing previous attempt summary:\n%s", got)
	}
}

func TestPlanStepCount(t *testing.T) {
	if n := planStepCount(&models.Task{}); n != 0 {
		t.Errorf("nil plan count = %d", n)
	}
	task := &models.Task{Plan: &models.Plan{Steps: []models.PlanStep{{Number: 1}, {Number: 2}}}}
	if n := planStepCount(task); n != 2 {
		t.Errorf("count = %d", n)
	}
}
