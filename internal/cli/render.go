package cli

import (
	"fmt"
	"io"

	"github.com/exiw-ai/proofloop/internal/events"
)

// renderEvents prints engine progress until the subscription is closed.
// Agent message streams are summarized to tool activity; full transcripts
// live in the evidence store.
func renderEvents(w io.Writer, ch chan events.Event) {
	for ev := range ch {
		switch ev.Kind {
		case events.KindStageStarted:
			_, _ = fmt.Fprintf(w, "--> %s\n", ev.Stage)
		case events.KindStageEnded:
			if d, ok := ev.Data["duration_seconds"].(float64); ok {
				_, _ = fmt.Fprintf(w, "<-- %s (%.1fs)\n", ev.Stage, d)
			}
		case events.KindCheckResult:
			_, _ = fmt.Fprintf(w, "    check %v: %v\n", ev.Data["check"], ev.Data["status"])
		case events.KindIterationDone:
			_, _ = fmt.Fprintf(w, "    iteration %v: %v (%v files changed)\n",
				ev.Data["number"], ev.Data["decision"], ev.Data["changes"])
		case events.KindAgentMessage:
			if tool, ok := ev.Data["tool"].(string); ok && tool != "" {
				_, _ = fmt.Fprintf(w, "    [%s] %s\n", ev.Stage, tool)
			}
		case events.KindTaskCreated:
			_, _ = fmt.Fprintf(w, "task %s created: %s\n", ev.TaskID, ev.Message)
		case events.KindTerminal:
			_, _ = fmt.Fprintf(w, "=== %s\n", ev.Stage)
		}
	}
}
