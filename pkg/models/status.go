package models

import "strings"

// TaskStatus is the pipeline stage a task is currently in.
type TaskStatus string

// Code pipeline stages, in execution order, followed by terminal statuses.
const (
	StatusIntake                TaskStatus = "intake"
	StatusStrategy              TaskStatus = "strategy"
	StatusVerificationInventory TaskStatus = "verification_inventory"
	StatusPlanning              TaskStatus = "planning"
	StatusConditions            TaskStatus = "conditions"
	StatusApprovalConditions    TaskStatus = "approval_conditions"
	StatusApprovalPlan          TaskStatus = "approval_plan"
	StatusExecuting             TaskStatus = "executing"
	StatusQuality               TaskStatus = "quality"
	StatusFinalize              TaskStatus = "finalize"
	StatusDone                  TaskStatus = "done"
	StatusBlocked               TaskStatus = "blocked"
	StatusStopped               TaskStatus = "stopped"
)

// Research pipeline stages. The research orchestrator lives outside this
// module, but the tool gate must classify these statuses.
const (
	StatusResearchIntake           TaskStatus = "research_intake"
	StatusResearchStrategy         TaskStatus = "research_strategy"
	StatusResearchSourceSelection  TaskStatus = "research_source_selection"
	StatusResearchRepoContext      TaskStatus = "research_repo_context"
	StatusResearchInventory        TaskStatus = "research_inventory"
	StatusResearchPlanning         TaskStatus = "research_planning"
	StatusResearchConditions       TaskStatus = "research_conditions"
	StatusResearchApproval         TaskStatus = "research_approval"
	StatusResearchBaseline         TaskStatus = "research_baseline"
	StatusResearchDiscovery        TaskStatus = "research_discovery"
	StatusResearchDeepening        TaskStatus = "research_deepening"
	StatusResearchCitationValidate TaskStatus = "research_citation_validate"
	StatusResearchReportGeneration TaskStatus = "research_report_generation"
	StatusResearchFinalized        TaskStatus = "research_finalized"
	StatusResearchFailed           TaskStatus = "research_failed"
	StatusResearchStagnated        TaskStatus = "research_stagnated"
)

// IsResearch reports whether the status belongs to the research pipeline.
func (s TaskStatus) IsResearch() bool {
	return strings.HasPrefix(string(s), "research_")
}

// IsPreDelivery reports whether the status is a stage before workspace
// mutation is permitted.
func (s TaskStatus) IsPreDelivery() bool {
	switch s {
	case StatusIntake, StatusStrategy, StatusVerificationInventory,
		StatusPlanning, StatusConditions, StatusApprovalConditions, StatusApprovalPlan:
		return true
	}
	return false
}

// IsDelivery reports whether the status is a stage where write tools are allowed.
func (s TaskStatus) IsDelivery() bool {
	switch s {
	case StatusExecuting, StatusQuality, StatusFinalize:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the pipeline.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusDone, StatusBlocked, StatusStopped,
		StatusResearchFinalized, StatusResearchFailed, StatusResearchStagnated:
		return true
	}
	return false
}

// ConditionRole determines how a condition weighs on completion.
type ConditionRole string

const (
	RoleBlocking ConditionRole = "blocking"
	RoleSignal   ConditionRole = "signal"
	RoleObserver ConditionRole = "observer"
)

// ApprovalStatus is the review state of a condition.
type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "draft"
	ApprovalProposed ApprovalStatus = "proposed"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// CheckStatus is the outcome of a verification check.
type CheckStatus string

const (
	CheckNotRun CheckStatus = "not_run"
	CheckPass   CheckStatus = "pass"
	CheckFail   CheckStatus = "fail"
)

// IterationDecision records what the engine decided after an iteration.
type IterationDecision string

const (
	DecisionContinue      IterationDecision = "continue"
	DecisionDeepenContext IterationDecision = "deepen_context"
	DecisionReplan        IterationDecision = "replan"
	DecisionBlocked       IterationDecision = "blocked"
	DecisionStopped       IterationDecision = "stopped"
	DecisionDone          IterationDecision = "done"
)

// SupervisionDecision is what Supervisor.Analyze recommends.
type SupervisionDecision string

const (
	SuperviseContinue      SupervisionDecision = "continue"
	SuperviseReplan        SupervisionDecision = "replan"
	SuperviseDeepenContext SupervisionDecision = "deepen_context"
	SuperviseStop          SupervisionDecision = "stop"
	SuperviseBlock         SupervisionDecision = "block"
)

// AnomalyType labels the anomaly behind a supervision decision.
type AnomalyType string

const (
	AnomalyStagnation   AnomalyType = "stagnation"
	AnomalyFlakyCheck   AnomalyType = "flaky_check"
	AnomalyRegression   AnomalyType = "regression"
	AnomalyContractRisk AnomalyType = "contract_risk"
	AnomalyLoopDetected AnomalyType = "loop_detected"
)

// RetryStrategy is how a failed delivery attempt is retried.
type RetryStrategy string

const (
	RetryContinueWithContext RetryStrategy = "continue_with_context"
	RetryRollbackAndRetry    RetryStrategy = "rollback_and_retry"
	RetryStop                RetryStrategy = "stop"
)

// CheckKind categorizes verification checks discovered in a project.
type CheckKind string

const (
	CheckKindTest      CheckKind = "test"
	CheckKindLint      CheckKind = "lint"
	CheckKindBuild     CheckKind = "build"
	CheckKindTypecheck CheckKind = "typecheck"
	CheckKindCustom    CheckKind = "custom"
)
