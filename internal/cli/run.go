package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/exiw-ai/proofloop/internal/config"
	"github.com/exiw-ai/proofloop/internal/pipeline"
	"github.com/exiw-ai/proofloop/pkg/models"
)

func newRunCmd() *cobra.Command {
	var (
		workspace     string
		goals         []string
		constraints   []string
		conditions    []string
		autoApprove   bool
		baseline      bool
		timeout       time.Duration
		maxIterations int
		mcpEnabled    bool
		mcpServers    []string
	)

	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Run a task through the full delivery pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			eng, err := openEngine(ctx, home)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			input := models.TaskInput{
				Description:    strings.Join(args, " "),
				Goals:          goals,
				Constraints:    constraints,
				UserConditions: conditions,
				WorkspacePath:  workspace,
				MCPEnabled:     mcpEnabled,
				MCPServers:     mcpServers,
				AutoApprove:    autoApprove || eng.Settings.AutoApprove,
				Baseline:       baseline,
				Timeout:        timeout,
				MaxIterations:  maxIterations,
			}
			if input.Timeout == 0 {
				input.Timeout = eng.Settings.Budget.WallTimeLimit
			}
			if input.MaxIterations == 0 {
				input.MaxIterations = eng.Settings.Budget.MaxIterations
			}

			cb := pipeline.Callbacks{}
			if !input.AutoApprove {
				term := newTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
				cb = pipeline.Callbacks{Approver: term, Clarifier: term, MCPSelector: term}
			}

			result, err := executeWithRenderer(ctx, cmd, eng, func(ctx context.Context) (*models.FinalResult, error) {
				return eng.Orch.Run(ctx, input, cb)
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

	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory the task operates on")
	cmd.Flags().StringArrayVar(&goals, "goal", nil, "Explicit goal (repeatable)")
	cmd.Flags().StringArrayVar(&constraints, "constraint", nil, "Constraint the plan must honor (repeatable)")
	cmd.Flags().StringArrayVar(&conditions, "condition", nil, "User-supplied signal condition (repeatable)")
	cmd.Flags().BoolVarP(&autoApprove, "auto-approve", "y", false, "Skip interactive approval gates")
	cmd.Flags().BoolVar(&baseline, "baseline", false, "Run inventory checks before delivery to capture a baseline")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wall time budget (default from config, else 10h)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration budget (default from config, else 50)")
	cmd.Flags().BoolVar(&mcpEnabled, "mcp", false, "Enable MCP server selection")
	cmd.Flags().StringArrayVar(&mcpServers, "mcp-server", nil, "MCP server to activate without suggestion (repeatable)")
	return cmd
}

// executeWithRenderer runs the pipeline in one goroutine while a second one
// renders the event stream, so progress stays visible during long agent turns.
func executeWithRenderer(ctx context.Context, cmd *cobra.Command, eng *engine, fn func(context.Context) (*models.FinalResult, error)) (*models.FinalResult, error) {
	sub := eng.Hub.Subscribe()
	var result *models.FinalResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		renderEvents(cmd.OutOrStdout(), sub)
		return nil
	})
	g.Go(func() error {
		defer eng.Hub.Unsubscribe(sub)
		r, err := fn(gctx)
		result = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func printResult(cmd *cobra.Command, result *models.FinalResult) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "\nTask %s: %s\n", result.TaskID, strings.ToUpper(string(result.Status)))
	if result.Summary != "" {
		_, _ = fmt.Fprintln(out, result.Summary)
	}
	if result.BlockedReason != "" {
		_, _ = fmt.Fprintf(out, "Blocked: %s\n", result.BlockedReason)
	}
	if result.StoppedReason != "" {
		_, _ = fmt.Fprintf(out, "Stopped: %s\n", result.StoppedReason)
	}
	for _, c := range result.Conditions {
		marker := " "
		switch c.CheckStatus {
		case models.CheckPass:
			marker = "+"
		case models.CheckFail:
			marker = "x"
		}
		_, _ = fmt.Fprintf(out, "  [%s] %s (%s, %s)\n", marker, c.Description, c.Role, c.ApprovalStatus)
	}
	if len(result.EvidenceRefs) > 0 {
		_, _ = fmt.Fprintf(out, "Evidence: %d artifacts recorded\n", len(result.EvidenceRefs))
	}
}
