// Package ui provides terminal rendering helpers for the CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Faint(true)

	// Color degrades gracefully on dumb terminals.
	colorEnabled = termenv.DefaultOutput().Profile != termenv.Ascii
)

// render applies a style unless the terminal cannot show it.
func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderPass renders success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders warning markers.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders failure markers.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent renders emphasized text.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderDim renders de-emphasized text.
func RenderDim(s string) string { return render(dimStyle, s) }
