package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nox-hq/warden/approval"
	"github.com/nox-hq/warden/manifest"
)

var (
	// Risk colors.
	colorHigh   = lipgloss.Color("#FF0000")
	colorMedium = lipgloss.Color("#FFD700")
	colorLow    = lipgloss.Color("#4169E1")

	// Status colors.
	colorApproved = lipgloss.Color("#A3BE8C")
	colorDenied   = lipgloss.Color("#BF616A")
	colorStale    = lipgloss.Color("#FF8C00")

	// UI colors.
	colorTitle  = lipgloss.Color("#FFFFFF")
	colorSubtle = lipgloss.Color("#666666")
	colorAccent = lipgloss.Color("#7D56F4")

	// Styles.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTitle)

	subtleStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorSubtle)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#88C0D0"))

	warningStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorStale)
)

// riskStyle returns the style for a risk level.
func riskStyle(r manifest.RiskLevel) lipgloss.Style {
	var color lipgloss.Color
	switch r {
	case manifest.RiskHigh:
		color = colorHigh
	case manifest.RiskMedium:
		color = colorMedium
	default:
		color = colorLow
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

// RiskBadge returns a fixed-width risk label for list display.
func RiskBadge(r manifest.RiskLevel) string {
	style := riskStyle(r)
	switch r {
	case manifest.RiskHigh:
		return style.Render("HIGH")
	case manifest.RiskMedium:
		return style.Render(" MED")
	default:
		return style.Render(" LOW")
	}
}

// StatusBadge returns the colored approval status.
func StatusBadge(s approval.Status) string {
	style := lipgloss.NewStyle()
	switch s {
	case approval.StatusApproved:
		style = style.Foreground(colorApproved)
	case approval.StatusDenied:
		style = style.Foreground(colorDenied)
	case approval.StatusStale:
		style = style.Bold(true).Foreground(colorStale)
	default:
		style = style.Foreground(colorSubtle)
	}
	return style.Render(s.String())
}
