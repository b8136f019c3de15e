package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/yakuza/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Shared by every copy of the model; the form writes through these pointers
	fields *settingsFields
}

// settingsFields are the form's value bindings.
type settingsFields struct {
	saveTarget     string
	logLevel       string
	logFormat      string
	retryEnabled   bool
	breakerEnabled bool
	storeEnabled   bool
	storePath      string
	allowSkipped   bool
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		fields:      &settingsFields{},
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFromConfig() {
	m.fields.saveTarget = "global"
	m.fields.logLevel = m.config.Log.Level
	m.fields.logFormat = m.config.Log.Format
	m.fields.retryEnabled = m.config.Retry.Enabled
	m.fields.breakerEnabled = m.config.Breaker.Enabled
	m.fields.storeEnabled = m.config.Store.Enabled
	m.fields.storePath = m.config.Store.Path
	m.fields.allowSkipped = m.config.Engine.AllowSkippedDependencies
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global ("+m.globalPath+")", "global"),
					huh.NewOption("Project ("+m.projectPath+")", "project"),
				).
				Value(&m.fields.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("logLevel").
				Title("Log Level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&m.fields.logLevel),

			huh.NewSelect[string]().
				Key("logFormat").
				Title("Log Format").
				Options(huh.NewOptions("console", "json")...).
				Value(&m.fields.logFormat),
		).Title("Logging"),

		huh.NewGroup(
			huh.NewConfirm().
				Key("retryEnabled").
				Title("Back off between retries").
				Value(&m.fields.retryEnabled),

			huh.NewConfirm().
				Key("breakerEnabled").
				Title("Per-agent circuit breakers").
				Value(&m.fields.breakerEnabled),

			huh.NewConfirm().
				Key("allowSkipped").
				Title("Run tasks whose dependencies were skipped").
				Value(&m.fields.allowSkipped),
		).Title("Engine"),

		huh.NewGroup(
			huh.NewConfirm().
				Key("storeEnabled").
				Title("Journal runs to SQLite").
				Value(&m.fields.storeEnabled),

			huh.NewInput().
				Key("storePath").
				Title("Journal Path").
				Value(&m.fields.storePath).
				Placeholder(m.config.Store.StorePath()),
		).Title("Journal"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.globalPath
		if m.fields.saveTarget == "project" {
			targetPath = m.projectPath
		}

		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
// Changes apply to the next run; the job being monitored keeps its settings.
func (m *SettingsPaneModel) applyFormToConfig() {
	m.config.Log.Level = m.fields.logLevel
	m.config.Log.Format = m.fields.logFormat
	m.config.Retry.Enabled = m.fields.retryEnabled
	m.config.Breaker.Enabled = m.fields.breakerEnabled
	m.config.Store.Enabled = m.fields.storeEnabled
	m.config.Store.Path = m.fields.storePath
	m.config.Engine.AllowSkippedDependencies = m.fields.allowSkipped
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	body := m.form.View()
	if m.err != nil {
		body = lipgloss.JoinVertical(lipgloss.Left,
			StyleStateFailed.Bold(true).Render(fmt.Sprintf("✗ Error saving: %v", m.err)),
			"",
			body,
		)
	}

	footer := StyleHelp.Render("esc: close without saving | changes apply to the next run")
	box := StyleFocusedBorder.
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 5).
		Render(body)

	return lipgloss.JoinVertical(lipgloss.Left, StyleTitle.Render("⚙ Settings"), box, footer)
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
// Showing it rebuilds the form from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFromConfig()
		m.buildForm()
		m.form.WithWidth(m.width - 8).WithHeight(m.height - 8)
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
