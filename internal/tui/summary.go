package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/yakuza/internal/job"
	"github.com/aristath/yakuza/internal/scheduler"
)

// Summary renders a settled job as a static report for non-interactive output.
func Summary(outcome job.Outcome, tasks []scheduler.TaskSnapshot) string {
	var b strings.Builder

	header := fmt.Sprintf("Job %s: %s", outcome.JobID, outcome.State)
	if outcome.Cancelled {
		header += " (cancelled)"
	}
	b.WriteString(StyleTitle.Render(StateStyle(outcome.State.String()).Render(header)))
	b.WriteString("\n\n")

	for _, snap := range tasks {
		state := snap.State.String()
		line := fmt.Sprintf("%s %-32s %s", StateIcon(state), snap.Ref.String(), StateStyle(state).Render(state))
		switch {
		case snap.State == scheduler.TaskSucceeded:
			line += fmt.Sprintf("  %v", snap.Result)
		case snap.Error != nil:
			line += "  " + snap.Error.Error()
		}
		if snap.Attempt > 0 {
			line += fmt.Sprintf("  (attempts: %d)", snap.Attempt+1)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(outcome.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleStateFailed.Render(fmt.Sprintf("%d errors:", len(outcome.Errors))))
		b.WriteString("\n")
		for _, err := range outcome.Errors {
			b.WriteString("  - " + err.Error() + "\n")
		}
	}

	return lipgloss.NewStyle().Padding(0, 1).Render(b.String())
}
