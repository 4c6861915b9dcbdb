package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Approve key.Binding
	Deny    key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("up/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("dn/j", "scroll down"),
	),
	Approve: key.NewBinding(
		key.WithKeys("a", "y"),
		key.WithHelp("a", "approve"),
	),
	Deny: key.NewBinding(
		key.WithKeys("d", "n"),
		key.WithHelp("d", "deny"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "decide later"),
	),
}

func (k keyMap) help() string {
	parts := make([]string, 0, 5)
	for _, b := range []key.Binding{k.Approve, k.Deny, k.Up, k.Down, k.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return helpStyle.Render(" " + strings.Join(parts, " · "))
}
