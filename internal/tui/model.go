package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/yakuza/internal/config"
	"github.com/aristath/yakuza/internal/events"
	"github.com/aristath/yakuza/internal/job"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
	paneCount
)

// Model is the root Bubble Tea model for the job monitor.
type Model struct {
	job          *job.Job
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
	finished     *events.JobFinishedEvent
	notice       string
}

// New creates a monitor for j. It subscribes to the job's events on bus, so
// it must be created before the job is started.
func New(j *job.Job, bus *events.EventBus, cfg *config.Config, globalPath, projectPath string) Model {
	buf := cfg.Engine.EventBuffer
	if buf <= 0 {
		buf = events.DefaultBufferSize
	}
	tasks := j.Tasks()
	m := Model{
		job:          j,
		taskPane:     NewTaskPaneModel(tasks),
		progressPane: NewProgressPaneModel(len(tasks)),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneTasks,
		eventSub:     bus.SubscribeJob(j.ID(), buf),
	}
	m.updateFocusStates()
	return m
}

// jobCheckInterval is how often the monitor polls the job's state in case
// its final event was dropped by a full subscription.
const jobCheckInterval = 500 * time.Millisecond

type jobCheckMsg struct{}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), checkJob())
}

func checkJob() tea.Cmd {
	return tea.Tick(jobCheckInterval, func(time.Time) tea.Msg { return jobCheckMsg{} })
}

// settleFromJob marks the monitor finished from the job itself when the
// job is terminal but no JobFinishedEvent arrived.
func (m *Model) settleFromJob() bool {
	if m.finished != nil {
		return true
	}
	if !m.job.State().Terminal() {
		return false
	}
	outcome, err := m.job.Wait(context.Background())
	if err != nil {
		return false
	}
	m.finished = &events.JobFinishedEvent{
		Job:    outcome.JobID,
		State:  outcome.State.String(),
		Errors: outcome.Errors,
	}
	return true
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Finished returns the job's final event once it has settled.
func (m Model) Finished() (events.JobFinishedEvent, bool) {
	if m.finished == nil {
		return events.JobFinishedEvent{}, false
	}
	return *m.finished, true
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Settings is modal
		if m.showSettings {
			if key.Matches(msg, keys.Close) {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
				return m, nil
			}
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
				if m.settingsPane.Saved() {
					m.notice = "settings saved"
				}
			}
			return m, cmd
		}

		switch {
		case key.Matches(msg, keys.Quit):
			if m.finished == nil {
				m.job.Cancel()
			}
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Cancel):
			if m.finished == nil {
				m.job.Cancel()
			}

		case key.Matches(msg, keys.Settings):
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case key.Matches(msg, keys.Tab):
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case key.Matches(msg, keys.ShiftTab):
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.TaskStartedEvent, events.TaskCompletedEvent, events.TaskRetryingEvent,
		events.TaskFailedEvent, events.TaskSkippedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.JobProgressEvent:
		m.progressPane = m.progressPane.Update(msg)
		if !m.settleFromJob() {
			cmds = append(cmds, waitForEvent(m.eventSub))
		}

	case jobCheckMsg:
		if !m.settleFromJob() {
			cmds = append(cmds, checkJob())
		}

	case events.JobFinishedEvent:
		// Last event for this job; stop listening
		m.finished = &msg

	case events.JobStartedEvent:
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the monitor.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	panes := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, panes, m.statusLine(), HelpView())
}

func (m Model) statusLine() string {
	line := m.jobStatus()
	if m.notice != "" {
		line += "  " + StyleHelp.Render(m.notice)
	}
	return line
}

func (m Model) jobStatus() string {
	if m.finished != nil {
		status := fmt.Sprintf("Job %s %s", m.job.ID(), m.finished.State)
		if d := m.finished.Duration; d > 0 {
			status += fmt.Sprintf(" in %v", d.Round(time.Millisecond))
		}
		if n := len(m.finished.Errors); n > 0 {
			status += fmt.Sprintf(" (%d errors)", n)
		}
		return StateStyle(m.finished.State).Render(status)
	}
	return StyleStateRunning.Render(fmt.Sprintf("Job %s running %s/%s", m.job.ID(), m.job.Scraper(), m.job.Entry()))
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 2 // status line and help bar

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
