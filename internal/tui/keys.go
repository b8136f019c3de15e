package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds the monitor's keybindings.
type keyMap struct {
	Quit     key.Binding
	Cancel   key.Binding
	Tab      key.Binding
	ShiftTab key.Binding
	Up       key.Binding
	Down     key.Binding
	Settings key.Binding
	Close    key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Cancel:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel job")),
	Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "cycle focus")),
	ShiftTab: key.NewBinding(key.WithKeys("shift+tab")),
	Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("j/k", "select task")),
	Down:     key.NewBinding(key.WithKeys("j", "down")),
	Settings: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
	Close:    key.NewBinding(key.WithKeys("esc")),
}

// HelpView returns a one-line help bar with common keybindings.
func HelpView() string {
	var parts []string
	for _, b := range []key.Binding{keys.Tab, keys.Up, keys.Cancel, keys.Settings, keys.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+": "+h.Desc)
	}
	return StyleHelp.Render(strings.Join(parts, " | "))
}
