// Package gate enforces the stage-scoped tool and command policy. Mutation
// rights are earned only after the agent has produced a plan and passed
// approval; research mode never earns them.
package gate

import (
	"fmt"
	"strings"

	"github.com/exiw-ai/proofloop/pkg/models"
)

// Tool names understood by agent runtimes.
const (
	ToolRead      = "Read"
	ToolWrite     = "Write"
	ToolEdit      = "Edit"
	ToolBash      = "Bash"
	ToolGlob      = "Glob"
	ToolGrep      = "Grep"
	ToolWebSearch = "WebSearch"
	ToolWebFetch  = "WebFetch"
)

// PolicyViolationError reports a command rejected by the gate. It blocks the
// command; it is never fatal to the pipeline.
type PolicyViolationError struct {
	Command string
	Stage   models.TaskStatus
	Reason  string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("command blocked in stage %s: %s (%q)", e.Stage, e.Reason, e.Command)
}

// AllowedTools returns the tool set for a pipeline stage. Pure: same stage,
// same answer.
func AllowedTools(status models.TaskStatus) []string {
	switch {
	case status.IsResearch():
		return []string{ToolWebSearch, ToolWebFetch, ToolRead, ToolGlob, ToolGrep, ToolBash}
	case status.IsPreDelivery():
		return []string{ToolRead, ToolGlob, ToolGrep, ToolBash}
	default:
		return []string{ToolRead, ToolWrite, ToolEdit, ToolBash, ToolGlob, ToolGrep}
	}
}

// ValidateBashCommand applies the stage's bash regime to a command line.
// The always-dangerous scan applies in every stage unless allowDangerous is
// set. Returns nil when the command is allowed, otherwise a
// *PolicyViolationError describing the rejection.
func ValidateBashCommand(command string, status models.TaskStatus, allowDangerous bool) error {
	if !allowDangerous {
		for _, re := range alwaysDangerous {
			if re.MatchString(command) {
				return &PolicyViolationError{Command: command, Stage: status, Reason: "dangerous command"}
			}
		}
	}

	if status.IsResearch() {
		return validateResearch(command, status)
	}

	// Delivery stages: mutation rights were earned at plan approval.
	if status.IsDelivery() {
		return nil
	}

	return validatePreDelivery(command, status)
}

// validateResearch checks the strict pipe grammar: every segment must start
// with a whitelisted read-only command, or "git" plus a read-only subcommand.
func validateResearch(command string, status models.TaskStatus) error {
	tokens := Tokenize(command)
	if len(tokens) == 0 {
		return &PolicyViolationError{Command: command, Stage: status, Reason: "empty command"}
	}
	for _, tok := range tokens {
		if researchForbiddenTokens[tok] {
			return &PolicyViolationError{Command: command, Stage: status,
				Reason: fmt.Sprintf("operator %q not allowed in research mode", tok)}
		}
	}
	for _, segment := range splitPipeline(tokens) {
		if len(segment) == 0 {
			return &PolicyViolationError{Command: command, Stage: status, Reason: "empty pipeline segment"}
		}
		head := segment[0]
		if head == "git" {
			if len(segment) < 2 || !researchGitSubcommands[segment[1]] {
				return &PolicyViolationError{Command: command, Stage: status,
					Reason: "git subcommand not in research whitelist"}
			}
			continue
		}
		if !researchWhitelist[head] {
			return &PolicyViolationError{Command: command, Stage: status,
				Reason: fmt.Sprintf("command %q not in research whitelist", head)}
		}
	}
	return nil
}

// validatePreDelivery rejects any forbidden operator in the raw string, then
// requires every pipe segment to match a read-only pattern and none of the
// mutating patterns.
func validatePreDelivery(command string, status models.TaskStatus) error {
	for _, re := range forbiddenOperators {
		if re.MatchString(command) {
			return &PolicyViolationError{Command: command, Stage: status,
				Reason: fmt.Sprintf("operator %q forbidden before delivery", re.String())}
		}
	}
	for _, raw := range strings.Split(command, "|") {
		segment := strings.TrimSpace(raw)
		for _, re := range mutatingCommands {
			if re.MatchString(segment) {
				return &PolicyViolationError{Command: command, Stage: status,
					Reason: fmt.Sprintf("mutating command %q before delivery", segment)}
			}
		}
		allowed := false
		for _, re := range safeBashPatterns {
			if re.MatchString(segment) {
				allowed = true
				break
			}
		}
		if !allowed {
			return &PolicyViolationError{Command: command, Stage: status,
				Reason: fmt.Sprintf("command %q not in pre-delivery whitelist", segment)}
		}
	}
	return nil
}
