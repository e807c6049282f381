package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// EmptyPlaceholder is shown instead of the table when the log has no records.
const EmptyPlaceholder = "No entries found."

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusCapturing = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(0, 1)

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	if a.mode == ModeCapacity && a.prompt != nil {
		return paneStyle.Width(a.width - 4).Height(a.height - 2).Render(a.prompt.View())
	}

	header := a.renderHeader()
	body := a.renderBody()
	pane := paneStyle.Width(a.width - 2).Height(a.height - 4).Render(body)
	return lipgloss.JoinVertical(lipgloss.Left, header, pane, a.renderStatusBar())
}

func (a App) renderHeader() string {
	state := statusIdle.Render("○ stopped")
	if a.capturing {
		state = statusCapturing.Render("● capturing")
	}
	count := dimStyle.Render(fmt.Sprintf("%d/%d", len(a.records), a.capacity))
	return titleStyle.Render(" HTTP requests ") + " " + state + "  " + count
}

func (a App) renderBody() string {
	if !a.connected && len(a.records) == 0 {
		return dimStyle.Render("not connected")
	}
	if len(a.records) == 0 {
		return dimStyle.Render(EmptyPlaceholder)
	}
	return a.table.View()
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	toggle := "s:start"
	if a.capturing {
		toggle = "s:stop"
	}
	right := "j/k:nav " + toggle + " c:clear n:capacity e:export r:refresh q:quit"
	if a.mode == ModeConfirmClear {
		right = "y:confirm any:cancel"
	}

	gap := a.width - lipgloss.Width(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}
