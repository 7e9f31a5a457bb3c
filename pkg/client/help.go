package client

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	helpTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	helpCommandStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				PaddingLeft(2)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

type helpEntry struct {
	usage string
	desc  string
}

var helpEntries = []helpEntry{
	{"/auth {Username} {Secret} {DisplayName}", "authenticate with the server"},
	{"/join {ChannelID}", "switch to another channel"},
	{"/rename {DisplayName}", "change the name shown to others"},
	{"/help", "show this help"},
	{"{message}", "send a message to the current channel"},
}

// RenderHelp lays out the command table.
func RenderHelp() string {
	width := 0
	for _, e := range helpEntries {
		if w := lipgloss.Width(e.usage); w > width {
			width = w
		}
	}
	// PaddingLeft counts toward Width.
	usageStyle := helpCommandStyle.Width(width + 4)

	lines := []string{helpTitleStyle.Render("Commands:")}
	for _, e := range helpEntries {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			usageStyle.Render(e.usage),
			helpDescStyle.Render(e.desc),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
