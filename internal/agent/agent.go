// Package agent abstracts the LLM-driven coding agent behind a small runtime
// interface. The engine hands it a prompt, an allowed tool set, and a working
// directory; everything the agent streams back is surfaced as messages.
package agent

import (
	"context"
	"fmt"
	"time"
)

// Message is one streamed event from a running agent turn.
type Message struct {
	Type      string         `json:"type"` // text, tool_use, result, error
	Text      string         `json:"text,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Input     string         `json:"input,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ToolCall records one tool invocation observed during a turn. The engine
// uses Bash entries as context when re-verifying manual conditions.
type ToolCall struct {
	Tool  string `json:"tool"`
	Input string `json:"input,omitempty"`
}

// Request describes one agent turn.
type Request struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	AllowedTools []string `json:"allowed_tools"`
	WorkDir      string   `json:"work_dir"`
	Model        string   `json:"model,omitempty"`
	MCPServers   []string `json:"mcp_servers,omitempty"`
}

// Result is the final outcome of a turn.
type Result struct {
	FinalText string
	ToolCalls []ToolCall
}

// Agent runs a single turn, streaming messages through emit as they arrive.
type Agent interface {
	Name() string
	Execute(ctx context.Context, req Request, emit func(Message)) (Result, error)
}

// StallError marks a transient infrastructure fault: the agent process hung
// or produced no output. Stalls are retried at the call boundary and do not
// count against the iteration budget.
type StallError struct {
	Cause error
}

func (e *StallError) Error() string {
	if e.Cause == nil {
		return "agent stalled"
	}
	return fmt.Sprintf("agent stalled: %v", e.Cause)
}

func (e *StallError) Unwrap() error { return e.Cause }
