package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/exiw-ai/proofloop/internal/config"
)

func newListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			eng, err := openEngine(ctx, home)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			runs, err := eng.index.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TASK\tSTATUS\tITER\tUPDATED\tDESCRIPTION")
			for _, r := range runs {
				desc := r.Description
				if len(desc) > 60 {
					desc = desc[:60] + "..."
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					r.TaskID, r.Status, r.IterationCount, r.UpdatedAt.Format("2006-01-02 15:04"), desc)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum runs to list")
	return cmd
}
