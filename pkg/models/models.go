// Package models provides the shared task aggregate and value types for the
// proofloop pipeline. These types are the persisted JSON shape and are stable
// for use by external tools.
package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckSpec describes one runnable verification command.
type CheckSpec struct {
	ID      uuid.UUID         `json:"id"`
	Name    string            `json:"name"`
	Kind    CheckKind         `json:"kind"`
	Command string            `json:"command"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout time.Duration     `json:"timeout_ns,omitempty"`
}

// CheckRunResult is the outcome of running one check.
type CheckRunResult struct {
	CheckID   uuid.UUID     `json:"check_id"`
	Status    CheckStatus   `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// EvidenceRef points at persisted proof of a check run.
type EvidenceRef struct {
	TaskID       uuid.UUID  `json:"task_id"`
	ConditionID  uuid.UUID  `json:"condition_id"`
	CheckID      *uuid.UUID `json:"check_id,omitempty"`
	ArtifactPath string     `json:"artifact_path_rel"`
	LogPath      string     `json:"log_path_rel,omitempty"`
}

// EvidenceSummary is the inline tail of a check run, kept on the condition
// so retry prompts and final results can show it without loading artifacts.
type EvidenceSummary struct {
	Command    string        `json:"command"`
	Cwd        string        `json:"cwd"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration_ns"`
	OutputTail string        `json:"output_tail"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Condition is one element of the definition of done.
type Condition struct {
	ID              uuid.UUID        `json:"id"`
	Description     string           `json:"description"`
	Role            ConditionRole    `json:"role"`
	ApprovalStatus  ApprovalStatus   `json:"approval_status"`
	CheckID         *uuid.UUID       `json:"check_id,omitempty"`
	CheckStatus     CheckStatus      `json:"check_status"`
	EvidenceRef     *EvidenceRef     `json:"evidence_ref,omitempty"`
	EvidenceSummary *EvidenceSummary `json:"evidence_summary,omitempty"`
}

// NewCondition returns a draft condition.
func NewCondition(description string, role ConditionRole) *Condition {
	return &Condition{
		ID:             uuid.New(),
		Description:    description,
		Role:           role,
		ApprovalStatus: ApprovalDraft,
		CheckStatus:    CheckNotRun,
	}
}

// Approve marks the condition approved. Manual blocking conditions with no
// automated check may be approved pre-emptively; they are verified later by
// evidence production, not by approval itself.
func (c *Condition) Approve() {
	c.ApprovalStatus = ApprovalApproved
}

// RecordCheckResult sets status, evidence reference, and evidence summary
// together. This is the only path by which CheckStatus leaves CheckNotRun;
// evidence is mandatory for FAIL as well as PASS.
func (c *Condition) RecordCheckResult(status CheckStatus, ref EvidenceRef, summary EvidenceSummary) {
	c.CheckStatus = status
	c.EvidenceRef = &ref
	c.EvidenceSummary = &summary
}

// PlanStep is one ordered step of an execution plan.
type PlanStep struct {
	Number            int         `json:"number"`
	Description       string      `json:"description"`
	TargetFiles       []string    `json:"target_files,omitempty"`
	RelatedConditions []uuid.UUID `json:"related_conditions,omitempty"`
}

// Plan is the agent-produced execution plan, versioned across refinements.
type Plan struct {
	Goal             string     `json:"goal"`
	Approach         string     `json:"approach,omitempty"`
	Boundaries       []string   `json:"boundaries"`
	Steps            []PlanStep `json:"steps"`
	Risks            []string   `json:"risks,omitempty"`
	Assumptions      []string   `json:"assumptions,omitempty"`
	ReplanConditions []string   `json:"replan_conditions,omitempty"`
	Version          int        `json:"version"`
	Approved         bool       `json:"approved"`
}

// Approve marks the current plan version approved.
func (p *Plan) Approve() { p.Approved = true }

// Iteration is one delivery attempt. Immutable once appended to a task.
type Iteration struct {
	Number       int                       `json:"number"`
	Goal         string                    `json:"goal"`
	Changes      []string                  `json:"changes,omitempty"`
	CheckResults map[uuid.UUID]CheckStatus `json:"check_results,omitempty"`
	Decision     IterationDecision         `json:"decision"`
	Reason       string                    `json:"decision_reason"`
	Timestamp    time.Time                 `json:"timestamp"`
	Metrics      map[string]float64        `json:"metrics,omitempty"`
}

// VerificationInventory is the discovered set of project checks plus context
// captured before any code change is allowed.
type VerificationInventory struct {
	Checks      []CheckSpec                  `json:"checks"`
	Baseline    map[uuid.UUID]CheckRunResult `json:"baseline,omitempty"`
	Structure   map[string][]string          `json:"structure,omitempty"`
	Conventions []string                     `json:"conventions,omitempty"`
}

// Check returns the check with the given id, or nil.
func (v *VerificationInventory) Check(id uuid.UUID) *CheckSpec {
	for i := range v.Checks {
		if v.Checks[i].ID == id {
			return &v.Checks[i]
		}
	}
	return nil
}

// Context artifact kinds, matching the on-disk research layout.
const (
	ContextKindHandoff = "llm_handoff"
	ContextKindReports = "reports"
)

// ContextRef points at a research artifact in the workspace that was fed
// into planning. RelPath is relative to the workspace root.
type ContextRef struct {
	Kind    string `json:"kind"`
	RelPath string `json:"rel_path"`
}

// Task is the aggregate driven through the pipeline. It is owned exclusively
// by one orchestrator for the duration of a run and persisted after every
// mutation.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Description string     `json:"description"`
	Goals       []string   `json:"goals,omitempty"`
	Sources     []string   `json:"sources"`
	Constraints []string   `json:"constraints,omitempty"`
	Status      TaskStatus `json:"status"`

	Inventory   *VerificationInventory `json:"verification_inventory,omitempty"`
	Conditions  []*Condition           `json:"conditions,omitempty"`
	Plan        *Plan                  `json:"plan,omitempty"`
	Budget      *Budget                `json:"budget"`
	Iterations  []Iteration            `json:"iterations,omitempty"`
	ContextRefs []ContextRef           `json:"context_refs,omitempty"`
}

// CanMarkDone reports whether every blocking condition is approved, passing,
// and evidenced. A single unmet blocking condition vetoes completion.
func (t *Task) CanMarkDone() bool {
	for _, c := range t.Conditions {
		if c.Role != RoleBlocking {
			continue
		}
		if c.ApprovalStatus != ApprovalApproved {
			return false
		}
		if c.CheckStatus != CheckPass {
			return false
		}
		if c.EvidenceRef == nil {
			return false
		}
	}
	return true
}

// AllPlanStepsDone reports whether at least one iteration exists per plan step.
func (t *Task) AllPlanStepsDone() bool {
	if t.Plan == nil {
		return true
	}
	return len(t.Iterations) >= len(t.Plan.Steps)
}

// BlockingConditions returns conditions with the blocking role.
func (t *Task) BlockingConditions() []*Condition {
	var out []*Condition
	for _, c := range t.Conditions {
		if c.Role == RoleBlocking {
			out = append(out, c)
		}
	}
	return out
}

// AddIteration appends an iteration. Iterations are ordered and append-only.
func (t *Task) AddIteration(it Iteration) {
	t.Iterations = append(t.Iterations, it)
}

// TransitionTo moves the task to the given stage.
func (t *Task) TransitionTo(status TaskStatus) {
	t.Status = status
}

// LatestIteration returns the most recent iteration, or nil.
func (t *Task) LatestIteration() *Iteration {
	if len(t.Iterations) == 0 {
		return nil
	}
	return &t.Iterations[len(t.Iterations)-1]
}
