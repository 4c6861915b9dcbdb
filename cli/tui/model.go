// Package tui provides the interactive approval prompt shown before a
// plugin is allowed to run, using the Bubble Tea framework.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nox-hq/warden/approval"
	"github.com/nox-hq/warden/manifest"
)

// Choice is the outcome of the approval prompt.
type Choice int

const (
	// ChoiceNone means the user left without deciding.
	ChoiceNone Choice = iota
	ChoiceApprove
	ChoiceDeny
)

// Model is the Bubble Tea model for the approval prompt.
type Model struct {
	manifest *manifest.Manifest
	status   approval.Status
	choice   Choice
	offset   int
	width    int
	height   int
}

// New creates an approval prompt for m, whose current approval state is
// status.
func New(m *manifest.Manifest, status approval.Status) *Model {
	return &Model{
		manifest: m,
		status:   status,
		width:    80,
		height:   24,
	}
}

// Choice returns the user's decision once the program has exited.
func (m *Model) Choice() Choice {
	return m.choice
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.clampOffset()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	lines := m.lines()
	visible := m.bodyHeight()
	end := min(m.offset+visible, len(lines))

	var b strings.Builder
	b.WriteString(strings.Join(lines[m.offset:end], "\n"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, " %s\n", titleStyle.Render(fmt.Sprintf("Allow %s to run with these permissions?", m.manifest.ID)))
	b.WriteString(keys.help())
	b.WriteString("\n")
	return b.String()
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case matchesBinding(msg, keys.Approve):
		m.choice = ChoiceApprove
		return m, tea.Quit

	case matchesBinding(msg, keys.Deny):
		m.choice = ChoiceDeny
		return m, tea.Quit

	case matchesBinding(msg, keys.Quit):
		m.choice = ChoiceNone
		return m, tea.Quit

	case matchesBinding(msg, keys.Up):
		if m.offset > 0 {
			m.offset--
		}

	case matchesBinding(msg, keys.Down):
		m.offset++
		m.clampOffset()
	}
	return m, nil
}

func (m *Model) lines() []string {
	return strings.Split(strings.TrimRight(RenderManifest(m.manifest, m.status, m.width), "\n"), "\n")
}

// bodyHeight is the number of manifest lines that fit above the prompt.
func (m *Model) bodyHeight() int {
	return max(m.height-4, 1)
}

func (m *Model) clampOffset() {
	maxOffset := max(len(m.lines())-m.bodyHeight(), 0)
	m.offset = min(max(m.offset, 0), maxOffset)
}

// matchesBinding checks if a key message matches a key binding.
func matchesBinding(msg tea.KeyMsg, binding key.Binding) bool {
	for _, k := range binding.Keys() {
		if msg.String() == k {
			return true
		}
	}
	return false
}

// Prompt runs the approval prompt on the given terminal streams and
// returns the user's choice.
func Prompt(m *manifest.Manifest, status approval.Status, in io.Reader, out io.Writer) (Choice, error) {
	p := tea.NewProgram(New(m, status), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return ChoiceNone, fmt.Errorf("running approval prompt: %w", err)
	}
	return final.(*Model).Choice(), nil
}
