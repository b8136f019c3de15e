package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/yakuza/internal/events"
)

// ProgressPaneModel shows per-state task counts for the job.
type ProgressPaneModel struct {
	progress events.JobProgressEvent
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates a progress pane for a job with total tasks.
func NewProgressPaneModel(total int) ProgressPaneModel {
	return ProgressPaneModel{progress: events.JobProgressEvent{Total: total, Pending: total}}
}

// Update records the latest progress event.
func (m ProgressPaneModel) Update(ev events.JobProgressEvent) ProgressPaneModel {
	m.progress = ev
	return m
}

// Done returns how many tasks reached a terminal state.
func (m ProgressPaneModel) Done() int {
	return m.progress.Succeeded + m.progress.Failed + m.progress.Skipped
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	p := m.progress
	var b strings.Builder

	title := StyleTitle.Render("Job Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:     %d\n", p.Total))
	b.WriteString(fmt.Sprintf("Succeeded: %s\n", StyleStateSucceeded.Render(fmt.Sprint(p.Succeeded))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStateRunning.Render(fmt.Sprint(p.Running))))
	b.WriteString(fmt.Sprintf("Ready:     %s\n", StyleStateReady.Render(fmt.Sprint(p.Ready))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStateFailed.Render(fmt.Sprint(p.Failed))))
	b.WriteString(fmt.Sprintf("Skipped:   %s\n", StyleStateSkipped.Render(fmt.Sprint(p.Skipped))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatePending.Render(fmt.Sprint(p.Pending))))
	b.WriteString("\n")

	if p.Total > 0 {
		b.WriteString(progressBar(p, min(m.width-4, 40)))
		b.WriteString(fmt.Sprintf("  %d/%d\n", m.Done(), p.Total))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func progressBar(p events.JobProgressEvent, width int) string {
	if width <= 0 || p.Total == 0 {
		return ""
	}
	succeeded := p.Succeeded * width / p.Total
	failed := p.Failed * width / p.Total
	skipped := p.Skipped * width / p.Total
	running := p.Running * width / p.Total
	rest := max(0, width-succeeded-failed-skipped-running)

	bar := StyleStateSucceeded.Render(strings.Repeat("=", succeeded))
	bar += StyleStateFailed.Render(strings.Repeat("!", failed))
	bar += StyleStateSkipped.Render(strings.Repeat("~", skipped))
	bar += StyleStateRunning.Render(strings.Repeat("-", running))
	bar += StyleStatePending.Render(strings.Repeat(".", rest))
	return "[" + bar + "]"
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
