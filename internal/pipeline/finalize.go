package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/exiw-ai/proofloop/internal/events"
	"github.com/exiw-ai/proofloop/internal/gitx"
	"github.com/exiw-ai/proofloop/internal/notify"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// finalize classifies the terminal status and assembles the final result.
// DONE requires the completion contract; BLOCKED is preserved from the
// incoming status; anything else is STOPPED with a mechanically derived
// reason.
func (o *Orchestrator) finalize(ctx context.Context, task *models.Task) (*models.FinalResult, error) {
	incoming := task.Status
	task.TransitionTo(models.StatusFinalize)
	if err := o.Repo.Save(task); err != nil {
		return nil, err
	}

	diff, err := o.safeDiff(ctx, task)
	if err != nil {
		return nil, err
	}

	var final models.TaskStatus
	var summary, blockedReason, stoppedReason string
	switch {
	case task.CanMarkDone():
		final = models.StatusDone
		summary = doneSummary(task, diff)
	case incoming == models.StatusBlocked:
		final = models.StatusBlocked
		summary = "Task blocked - requires user action"
		blockedReason = blockedReasonFor(task)
	default:
		final = models.StatusStopped
		summary = "Task stopped"
		stoppedReason = o.stopReason
		if stoppedReason == "" {
			stoppedReason = stoppedReasonFor(task)
		}
	}

	conditions := make([]models.ConditionOutput, 0, len(task.Conditions))
	var refs []models.EvidenceRef
	for _, c := range task.Conditions {
		out := models.ConditionOutput{
			ID:             c.ID,
			Description:    c.Description,
			Role:           c.Role,
			ApprovalStatus: c.ApprovalStatus,
			CheckStatus:    c.CheckStatus,
		}
		if c.EvidenceSummary != nil {
			out.EvidenceTail = c.EvidenceSummary.OutputTail
		}
		conditions = append(conditions, out)
		if c.EvidenceRef != nil {
			refs = append(refs, *c.EvidenceRef)
		}
	}

	task.TransitionTo(final)
	if err := o.Repo.Save(task); err != nil {
		return nil, err
	}
	o.indexRun(ctx, task, stoppedReason)

	result := &models.FinalResult{
		TaskID:        task.ID,
		Status:        final,
		Diff:          diff.Diff,
		Patch:         diff.Patch,
		Summary:       summary,
		Conditions:    conditions,
		EvidenceRefs:  refs,
		BlockedReason: blockedReason,
		StoppedReason: stoppedReason,
	}

	o.publish(events.Event{
		Kind:    events.KindTerminal,
		TaskID:  task.ID,
		Stage:   string(final),
		Message: summary,
	})
	if o.Notifiers != nil {
		reason := blockedReason
		if reason == "" {
			reason = stoppedReason
		}
		msg := notify.TerminalMessage(task.ID.String(), string(final), task.Description, reason)
		if err := o.Notifiers.NotifyAll(ctx, msg); err != nil {
			slog.Warn("terminal notification failed", "task_id", task.ID, "err", err)
		}
	}
	slog.Info("task finalized", "task_id", task.ID, "status", final)
	return result, nil
}

func doneSummary(task *models.Task, diff gitx.DiffResult) string {
	headline := task.Description
	if task.Plan != nil {
		headline = task.Plan.Goal
	}
	lines := []string{fmt.Sprintf("Completed: %s.", headline)}

	if files := diff.FilesChanged; len(files) > 0 {
		preview := files
		suffix := ""
		if len(files) > 5 {
			preview = files[:5]
			suffix = fmt.Sprintf(" (+%d more)", len(files)-5)
		}
		lines = append(lines, fmt.Sprintf("Updated files: %s%s.", strings.Join(preview, ", "), suffix))
	} else {
		lines = append(lines, "No files changed.")
	}
	if task.Plan != nil {
		lines = append(lines, fmt.Sprintf("Plan steps executed: %d.", len(task.Plan.Steps)))
	}
	return strings.Join(lines, "\n")
}

// blockedReasonFor names the first unapproved blocking condition.
func blockedReasonFor(task *models.Task) string {
	for _, c := range task.BlockingConditions() {
		if c.ApprovalStatus != models.ApprovalApproved {
			return fmt.Sprintf("Condition %q requires approval", c.Description)
		}
	}
	return "User action required"
}

// stoppedReasonFor names the budget threshold that tripped, or attributes
// the stop to the supervisor.
func stoppedReasonFor(task *models.Task) string {
	b := task.Budget
	if b.IsExhausted() {
		switch {
		case b.IterationCount >= b.MaxIterations:
			return fmt.Sprintf("Max iterations (%d) reached", b.MaxIterations)
		case b.StagnationCount >= b.StagnationLimit:
			return fmt.Sprintf("Stagnation limit (%d) reached", b.StagnationLimit)
		case b.Elapsed >= b.WallTimeLimit:
			return fmt.Sprintf("Wall time limit (%s) reached", b.WallTimeLimit)
		}
	}
	return "Stopped by supervisor decision"
}
