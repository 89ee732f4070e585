package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/exiw-ai/proofloop/internal/mcpsel"
	"github.com/exiw-ai/proofloop/internal/pipeline"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// terminal implements the interactive pipeline callbacks over stdin/stdout.
type terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: bufio.NewReader(in), out: out}
}

func (t *terminal) readLine() string {
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

func (t *terminal) ReviewPlan(plan *models.Plan, conditions []*models.Condition) (pipeline.ApprovalResponse, error) {
	fmt.Fprintf(t.out, "\nPlan v%d: %s\n", plan.Version, plan.Goal)
	if plan.Approach != "" {
		fmt.Fprintf(t.out, "Approach: %s\n", plan.Approach)
	}
	for _, s := range plan.Steps {
		fmt.Fprintf(t.out, "  %d. %s\n", s.Number, s.Description)
	}
	if len(plan.Boundaries) > 0 {
		fmt.Fprintf(t.out, "Will NOT: %s\n", strings.Join(plan.Boundaries, "; "))
	}
	fmt.Fprintln(t.out, "Definition of done:")
	for _, c := range conditions {
		fmt.Fprintf(t.out, "  - %s (%s)\n", c.Description, c.Role)
	}
	fmt.Fprint(t.out, "Approve plan? [y/N or type feedback to refine]: ")

	answer := t.readLine()
	switch strings.ToLower(answer) {
	case "y", "yes":
		return pipeline.ApprovalResponse{Approved: true}, nil
	case "", "n", "no":
		return pipeline.ApprovalResponse{}, nil
	default:
		return pipeline.ApprovalResponse{Feedback: answer}, nil
	}
}

func (t *terminal) Clarify(questions []pipeline.ClarificationQuestion) ([]pipeline.ClarificationAnswer, error) {
	answers := make([]pipeline.ClarificationAnswer, 0, len(questions))
	for _, q := range questions {
		fmt.Fprintf(t.out, "\n%s\n", q.Question)
		if q.Context != "" {
			fmt.Fprintf(t.out, "  (%s)\n", q.Context)
		}
		for i, opt := range q.Options {
			fmt.Fprintf(t.out, "  %d) %s", i+1, opt.Label)
			if opt.Description != "" {
				fmt.Fprintf(t.out, " - %s", opt.Description)
			}
			fmt.Fprintln(t.out)
		}
		fmt.Fprint(t.out, "Pick a number or type a custom answer: ")

		answer := pipeline.ClarificationAnswer{QuestionID: q.ID, SelectedOption: pipeline.DecideForMe}
		input := t.readLine()
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(q.Options) {
			answer.SelectedOption = q.Options[n-1].Key
		} else if input != "" {
			answer.SelectedOption = ""
			answer.CustomValue = input
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

func (t *terminal) SelectServers(suggestions []mcpsel.Suggestion) []string {
	fmt.Fprintln(t.out, "\nSuggested MCP servers:")
	for i, s := range suggestions {
		fmt.Fprintf(t.out, "  %d) %s (confidence %.1f) - %s\n", i+1, s.ServerName, s.Confidence, s.Reason)
		if missing := mcpsel.MissingCredentials(s.Template); len(missing) > 0 {
			fmt.Fprintf(t.out, "     missing credentials: %s\n", strings.Join(missing, ", "))
		}
	}
	fmt.Fprint(t.out, "Enable which? [comma-separated numbers, empty for none]: ")

	var selected []string
	for _, part := range strings.Split(t.readLine(), ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > len(suggestions) {
			continue
		}
		selected = append(selected, suggestions[n-1].ServerName)
	}
	return selected
}
