package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/exiw-ai/proofloop/internal/config"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify runtime dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			// git is required for workspace discovery, diffing, and rollback.
			if _, err := exec.LookPath("git"); err != nil {
				problems = append(problems, "missing dependency: git (not found on PATH)")
			}

			settings, err := config.LoadSettings(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("config.yaml unreadable: %v", err))
			} else {
				command := settings.Agent.Command
				if command == "" {
					command = defaultAgentCommand
				}
				if _, err := exec.LookPath(command); err != nil {
					problems = append(problems, fmt.Sprintf("agent command %q not found on PATH", command))
				}
			}

			stateDir := config.StateDir(home)
			if err := os.MkdirAll(stateDir, 0o755); err != nil {
				problems = append(problems, fmt.Sprintf("state directory not writable: %v", err))
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
