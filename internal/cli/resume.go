package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/exiw-ai/proofloop/internal/config"
	"github.com/exiw-ai/proofloop/internal/pipeline"
	"github.com/exiw-ai/proofloop/pkg/models"
)

func newResumeCmd() *cobra.Command {
	var (
		workspace   string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a persisted task from its saved stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			home := config.MustHomeFrom(ctx)
			eng, err := openEngine(ctx, home)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			task, err := eng.Repo.Load(taskID)
			if err != nil {
				return err
			}
			if task.Status.IsTerminal() {
				return fmt.Errorf("task %s already ended %s", taskID, task.Status)
			}

			if workspace == "" && len(task.Sources) > 0 {
				workspace = task.Sources[0]
			}
			input := models.TaskInput{
				Description:   task.Description,
				Goals:         task.Goals,
				Constraints:   task.Constraints,
				WorkspacePath: workspace,
				AutoApprove:   autoApprove || eng.Settings.AutoApprove,
			}

			cb := pipeline.Callbacks{}
			if !input.AutoApprove {
				term := newTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
				cb = pipeline.Callbacks{Approver: term, Clarifier: term, MCPSelector: term}
			}

			result, err := executeWithRenderer(ctx, cmd, eng, func(ctx context.Context) (*models.FinalResult, error) {
				return eng.Orch.Resume(ctx, task, input, cb)
			})
			if err != nil {
				return err
			}
			printResult(cmd, result)
			if result.Status != models.StatusDone {
				return fmt.Errorf("task ended %s", result.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: the task's recorded source)")
	cmd.Flags().BoolVarP(&autoApprove, "auto-approve", "y", false, "Skip interactive approval gates")
	return cmd
}
