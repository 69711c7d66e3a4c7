package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type field struct {
	key, value string
}

// printFields writes aligned key value lines
func printFields(w io.Writer, fields ...field) {
	width := 0
	for _, f := range fields {
		if len(f.key) > width {
			width = len(f.key)
		}
	}
	for _, f := range fields {
		v := f.value
		if v == "" {
			v = mutedStyle.Render("-")
		} else {
			v = valueStyle.Render(v)
		}
		fmt.Fprintf(w, "%s %s\n", keyStyle.Width(width+1).Render(f.key), v)
	}
}
