package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/exiw-ai/proofloop/internal/config"
	"github.com/exiw-ai/proofloop/internal/state"
	"github.com/exiw-ai/proofloop/pkg/models"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's stage, conditions, and iterations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			home := config.MustHomeFrom(cmd.Context())
			repo := state.NewTaskRepo(config.StateDir(home))
			task, err := repo.Load(taskID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Task %s\n", task.ID)
			_, _ = fmt.Fprintf(out, "  Description: %s\n", task.Description)
			_, _ = fmt.Fprintf(out, "  Status: %s\n", task.Status)
			if task.Plan != nil {
				_, _ = fmt.Fprintf(out, "  Plan: v%d %q (%d steps, approved=%v)\n",
					task.Plan.Version, task.Plan.Goal, len(task.Plan.Steps), task.Plan.Approved)
			}
			if b := task.Budget; b != nil {
				_, _ = fmt.Fprintf(out, "  Budget: %d/%d iterations, %s/%s elapsed, stagnation %d/%d\n",
					b.IterationCount, b.MaxIterations, b.Elapsed.Round(1e9), b.WallTimeLimit,
					b.StagnationCount, b.StagnationLimit)
			}

			if len(task.Conditions) > 0 {
				_, _ = fmt.Fprintln(out, "  Conditions:")
				for _, c := range task.Conditions {
					marker := " "
					switch c.CheckStatus {
					case models.CheckPass:
						marker = "+"
					case models.CheckFail:
						marker = "x"
					}
					_, _ = fmt.Fprintf(out, "    [%s] %s (%s, %s)\n", marker, c.Description, c.Role, c.ApprovalStatus)
					if c.CheckStatus == models.CheckFail && c.EvidenceSummary != nil && c.EvidenceSummary.OutputTail != "" {
						_, _ = fmt.Fprintf(out, "        %s\n", c.EvidenceSummary.OutputTail)
					}
				}
			}
			if len(task.Iterations) > 0 {
				_, _ = fmt.Fprintln(out, "  Iterations:")
				for _, it := range task.Iterations {
					_, _ = fmt.Fprintf(out, "    %d. %s - %s (%d files changed)\n",
						it.Number, it.Decision, it.Reason, len(it.Changes))
				}
			}
			if task.Plan != nil {
				_, _ = fmt.Fprintf(out, "  Plan steps covered: %v\n", task.AllPlanStepsDone())
			}
			_, _ = fmt.Fprintf(out, "  Done contract satisfied: %v\n", task.CanMarkDone())
			return nil
		},
	}
	return cmd
}
