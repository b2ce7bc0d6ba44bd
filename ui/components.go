package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column widths of the summary table.
const (
	colName    = 30 // procedure name
	colOutcome = 8  // "PASSED", "FAILED", "IGNORED"
)

type kv struct {
	Key string
	Val string
}

// styledPad pads a styled string to the given visual width using spaces.
// Unlike fmt.Sprintf("%-Xs"), this accounts for ANSI escape codes.
func styledPad(styled string, width int) string {
	visW := lipgloss.Width(styled)
	if visW >= width {
		return styled
	}
	return styled + strings.Repeat(" ", width-visW)
}

// boxTop renders the top border of a rounded box.
func boxTop(innerW int) string {
	return " " + dimStyle.Render("╭"+strings.Repeat("─", innerW+2)+"╮")
}

func boxBot(innerW int) string {
	return " " + dimStyle.Render("╰"+strings.Repeat("─", innerW+2)+"╯")
}

func boxMid(innerW int) string {
	return " " + dimStyle.Render("├"+strings.Repeat("─", innerW+2)+"┤")
}

// boxRow renders one content line inside a box, padded to innerW.
func boxRow(content string, innerW int) string {
	pad := innerW - lipgloss.Width(content)
	if pad < 0 {
		pad = 0
	}
	return " " + dimStyle.Render("│") + " " + content + strings.Repeat(" ", pad) + " " + dimStyle.Render("│")
}

// bar renders a completion bar of given width.
func bar(pct float64, width int) string {
	if width < 1 {
		width = 10
	}
	pct = min(max(pct, 0), 100)
	filled := min(int(pct/100*float64(width)), width)
	b := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if pct >= 100 {
		return okStyle.Render(b)
	}
	return valueStyle.Render(b)
}
