package pipeline

import (
	"github.com/exiw-ai/proofloop/internal/mcpsel"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// ClarificationOption is one selectable answer to a clarification question.
type ClarificationOption struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// DecideForMe is the option key meaning the agent picks per best judgment.
const DecideForMe = "_auto"

// ClarificationQuestion is an ambiguity the agent wants resolved before
// planning.
type ClarificationQuestion struct {
	ID       string                `json:"id"`
	Question string                `json:"question"`
	Context  string                `json:"context,omitempty"`
	Options  []ClarificationOption `json:"options"`
}

// ClarificationAnswer is the user's pick for one question.
type ClarificationAnswer struct {
	QuestionID     string `json:"question_id"`
	SelectedOption string `json:"selected_option"`
	CustomValue    string `json:"custom_value,omitempty"`
}

// ApprovalResponse is the outcome of presenting a plan for review.
// Rejecting with feedback triggers a plan refinement round; rejecting without
// feedback blocks the run. A non-nil Conditions slice replaces the task's
// condition set.
type ApprovalResponse struct {
	Approved   bool
	Feedback   string
	Conditions []*models.Condition
}

// PlanApprover reviews the plan and its conditions before delivery starts.
type PlanApprover interface {
	ReviewPlan(plan *models.Plan, conditions []*models.Condition) (ApprovalResponse, error)
}

// Clarifier answers the agent's clarification questions.
type Clarifier interface {
	Clarify(questions []ClarificationQuestion) ([]ClarificationAnswer, error)
}

// MCPSelector picks which suggested MCP servers to enable for the run.
type MCPSelector interface {
	SelectServers(suggestions []mcpsel.Suggestion) []string
}

// Callbacks bundles the interactive hooks for one run. Any of them may be
// nil; without an approver the run requires auto-approve or ends BLOCKED.
type Callbacks struct {
	Approver    PlanApprover
	Clarifier   Clarifier
	MCPSelector MCPSelector
}
