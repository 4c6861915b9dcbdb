package tui

import (
	"fmt"
	"strings"

	"github.com/nox-hq/warden/approval"
	"github.com/nox-hq/warden/manifest"
)

// RenderManifest renders everything a user needs to decide on a plugin:
// identity, risk, each permission with its weight, and the tools it
// offers.
func RenderManifest(m *manifest.Manifest, status approval.Status, width int) string {
	var b strings.Builder

	name := m.Name
	if name == "" {
		name = m.ID
	}
	risk := m.Risk()
	fmt.Fprintf(&b, " %s %s · %s · %s\n",
		titleStyle.Render(name),
		subtleStyle.Render(m.Version),
		riskStyle(risk).Render(strings.ToUpper(risk.String())+" RISK"),
		StatusBadge(status))
	b.WriteString(headerStyle.Render(strings.Repeat("─", max(width, 20))))
	b.WriteString("\n")

	fmt.Fprintf(&b, " %s %s\n", subtleStyle.Render("id:"), m.ID)
	if m.Description != "" {
		b.WriteString(" " + wrapText(m.Description, width-2, " ") + "\n")
	}
	if status == approval.StatusStale {
		b.WriteString("\n " + warningStyle.Render("Permissions changed since the last decision.") + "\n")
	}

	b.WriteString("\n " + sectionStyle.Render("Permissions") + "\n")
	factors := manifest.Breakdown(m.Permissions)
	if len(factors) == 0 {
		b.WriteString("   " + subtleStyle.Render("none") + "\n")
	}
	for _, f := range factors {
		line := f.Permission
		if f.Detail != "" {
			line += ": " + f.Detail
		}
		fmt.Fprintf(&b, "   %s %s\n", line, subtleStyle.Render(fmt.Sprintf("(+%d)", f.Weight)))
	}
	if !m.Permissions.HasNetwork() {
		b.WriteString("   " + subtleStyle.Render("no network access") + "\n")
	}

	b.WriteString("\n " + sectionStyle.Render("Tools") + "\n")
	for _, t := range m.Tools {
		fmt.Fprintf(&b, "   %s", toolStyle.Render(t.Name))
		if t.Description != "" {
			b.WriteString(" " + subtleStyle.Render(t.Description))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n %s %s\n", subtleStyle.Render("permissions hash:"), subtleStyle.Render(m.Hash().String()))
	return b.String()
}

// wrapText wraps text at the given width with an indent prefix.
func wrapText(text string, width int, indent string) string {
	if width <= 0 {
		width = 80
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var b strings.Builder
	lineLen := 0
	for i, w := range words {
		if i > 0 && lineLen+1+len(w) > width {
			b.WriteString("\n" + indent)
			lineLen = 0
		} else if i > 0 {
			b.WriteString(" ")
			lineLen++
		}
		b.WriteString(w)
		lineLen += len(w)
	}
	return b.String()
}
