package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/yakuza/internal/events"
	"github.com/aristath/yakuza/internal/scheduler"
)

// TaskView is what the monitor knows about one task instance.
type TaskView struct {
	ID       string // agent/task
	State    string
	Attempt  int
	Log      []string
	Duration time.Duration
}

// TaskPaneModel shows the job's tasks and the event log of the selected one.
type TaskPaneModel struct {
	tasks       map[string]*TaskView
	order       []string // dispatch order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a task pane seeded with the job's tasks.
func NewTaskPaneModel(snapshots []scheduler.TaskSnapshot) TaskPaneModel {
	m := TaskPaneModel{
		tasks:    make(map[string]*TaskView, len(snapshots)),
		viewport: viewport.New(0, 0),
	}
	for _, snap := range snapshots {
		id := snap.Ref.String()
		m.tasks[id] = &TaskView{ID: id, State: snap.State.String(), Attempt: snap.Attempt}
		m.order = append(m.order, id)
	}
	m.updateViewportContent()
	return m
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch {
		case key.Matches(msg, keys.Down):
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case key.Matches(msg, keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		m.record(msg.ID, "running", msg.Timestamp, fmt.Sprintf("attempt %d started", msg.Attempt+1), func(t *TaskView) {
			t.Attempt = msg.Attempt
		})

	case events.TaskCompletedEvent:
		m.record(msg.ID, "succeeded", msg.Timestamp, fmt.Sprintf("succeeded in %v: %v", msg.Duration, msg.Result), func(t *TaskView) {
			t.Duration = msg.Duration
		})

	case events.TaskRetryingEvent:
		m.record(msg.ID, "ready", msg.Timestamp, fmt.Sprintf("failed: %v; retry %d in %v", msg.Err, msg.Attempt, msg.Delay), func(t *TaskView) {
			t.Attempt = msg.Attempt
		})

	case events.TaskFailedEvent:
		m.record(msg.ID, "failed", msg.Timestamp, fmt.Sprintf("failed: %v", msg.Err), func(t *TaskView) {
			t.Duration = msg.Duration
		})

	case events.TaskSkippedEvent:
		m.record(msg.ID, "skipped", msg.Timestamp, "skipped: "+msg.Reason, nil)
	}

	return m, cmd
}

func (m *TaskPaneModel) record(id, state string, at time.Time, line string, apply func(*TaskView)) {
	task, ok := m.tasks[id]
	if !ok {
		task = &TaskView{ID: id}
		m.tasks[id] = task
		m.order = append(m.order, id)
	}
	task.State = state
	task.Log = append(task.Log, at.Format("15:04:05.000")+" "+line)
	if apply != nil {
		apply(task)
	}
	if m.selectedID() == id {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := m.listWidth()
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatePending.Render("No tasks"))
	}
	for i, id := range m.order {
		name := id
		if len(name) > width-4 && width > 7 {
			name = name[:width-7] + "..."
		}
		line := StateIcon(m.tasks[id].State) + " " + name
		if i == m.selectedIdx {
			line = lipgloss.NewStyle().
				Background(lipgloss.Color("62")).
				Foreground(lipgloss.Color("0")).
				Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

func (m TaskPaneModel) listWidth() int {
	return max(20, m.width/3)
}

func (m TaskPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected task.
func (m TaskPaneModel) Selected() (TaskView, bool) {
	task, ok := m.tasks[m.selectedID()]
	if !ok {
		return TaskView{}, false
	}
	return *task, true
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.selectedID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := fmt.Sprintf("%s  %s  attempt %d", task.ID, StateStyle(task.State).Render(task.State), task.Attempt+1)
	if len(task.Log) == 0 {
		m.viewport.SetContent(header + "\n\nNot started")
		return
	}
	m.viewport.SetContent(header + "\n\n" + strings.Join(task.Log, "\n"))
	m.viewport.GotoBottom()
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(10, m.width-m.listWidth()-4)
	m.viewport.Height = max(5, m.height-4)
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
