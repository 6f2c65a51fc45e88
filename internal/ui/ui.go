// Package ui provides terminal styling and output helpers for the dogma
// CLI: color detection, a color palette, and table rendering, mirroring
// BeadsLog's own internal/ui package (terminal.go's TTY/NO_COLOR
// detection, table.go's lipgloss/table wiring).
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
)

// Palette, grounded on the same semantic roles BeadsLog's internal/ui
// styles use (accent/pass/warn/muted) rather than its exact hex values,
// since that file wasn't itself present in the retrieval pack.
var (
	ColorAccent = lipgloss.Color("62")  // blue-violet, headings
	ColorPass   = lipgloss.Color("42")  // green, success/ACTIVE
	ColorWarn   = lipgloss.Color("214") // amber, READ_ONLY/tombstoned
	ColorMuted  = lipgloss.Color("244") // gray, borders/hints
)

var (
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle    = lipgloss.NewStyle().Foreground(ColorWarn)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	BorderStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
)

// IsTerminal reports whether stdout is attached to a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor follows the same NO_COLOR / CLICOLOR conventions
// BeadsLog's internal/ui.ShouldUseColor implements.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return IsTerminal()
}

// Width returns the terminal width, or 80 if it cannot be determined
// (piped output, non-TTY CI runs).
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// NewTable returns a lipgloss table pre-styled with the rounded border
// and muted border color BeadsLog's NewSearchTable uses, sized to the
// current terminal width.
func NewTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(BorderStyle).
		Width(Width())
}

// StatusStyle colors a repository/project status label: ACTIVE in the
// pass color, READ_ONLY or a tombstoned/removed status in the warn
// color, anything else left unstyled.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "ACTIVE":
		return SuccessStyle
	case "READ_ONLY", "REMOVED":
		return WarnStyle
	default:
		return lipgloss.NewStyle()
	}
}
