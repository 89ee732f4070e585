package models

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// TaskInput is the caller-provided description of a run.
type TaskInput struct {
	Description    string   `json:"description"`
	Goals          []string `json:"goals,omitempty"`
	Sources        []string `json:"sources,omitempty"`
	Constraints    []string `json:"constraints,omitempty"`
	UserConditions []string `json:"user_conditions,omitempty"`

	WorkspacePath string `json:"workspace_path"`

	MCPEnabled bool     `json:"mcp_enabled,omitempty"`
	MCPServers []string `json:"mcp_servers,omitempty"`

	AutoApprove   bool          `json:"auto_approve,omitempty"`
	Baseline      bool          `json:"baseline,omitempty"`
	Timeout       time.Duration `json:"timeout_ns,omitempty"`
	MaxIterations int           `json:"max_iterations,omitempty"`
}

// Normalize resolves the workspace path, applies defaults, and derives
// sources from the workspace when none were given.
func (in *TaskInput) Normalize() error {
	if in.WorkspacePath == "" {
		return fmt.Errorf("workspace path is required")
	}
	abs, err := filepath.Abs(in.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("workspace path does not exist: %s", abs)
	}
	in.WorkspacePath = abs
	if len(in.Sources) == 0 {
		in.Sources = []string{abs}
	}
	if in.Timeout <= 0 {
		in.Timeout = DefaultWallTimeLimit
	}
	if in.MaxIterations <= 0 {
		in.MaxIterations = DefaultMaxIterations
	}
	return nil
}

// ConditionOutput is the per-condition slice of a final result.
type ConditionOutput struct {
	ID             uuid.UUID      `json:"id"`
	Description    string         `json:"description"`
	Role           ConditionRole  `json:"role"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	CheckStatus    CheckStatus    `json:"check_status"`
	EvidenceTail   string         `json:"evidence_tail,omitempty"`
}

// FinalResult is the terminal outcome of a run.
type FinalResult struct {
	TaskID        uuid.UUID         `json:"task_id"`
	Status        TaskStatus        `json:"status"`
	Diff          string            `json:"diff"`
	Patch         string            `json:"patch"`
	Summary       string            `json:"summary"`
	Conditions    []ConditionOutput `json:"conditions"`
	EvidenceRefs  []EvidenceRef     `json:"evidence_refs"`
	BlockedReason string            `json:"blocked_reason,omitempty"`
	StoppedReason string            `json:"stopped_reason,omitempty"`
}
