package model

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/reqlog/pkg/transport/uds"
)

// CapacityPrompt is the inline form for resizing the log.
type CapacityPrompt struct {
	input textinput.Model
	err   string
}

// NewCapacityPrompt creates a prompt pre-filled with the current capacity.
func NewCapacityPrompt(current int) *CapacityPrompt {
	ti := textinput.New()
	ti.Placeholder = "1-1000"
	ti.CharLimit = 12
	if current > 0 {
		ti.SetValue(strconv.Itoa(current))
	}
	ti.Focus()
	return &CapacityPrompt{input: ti}
}

// Value parses the entered capacity. Range is not checked here; the daemon
// clamps it.
func (p *CapacityPrompt) Value() (int, error) {
	return strconv.Atoi(strings.TrimSpace(p.input.Value()))
}

// HandleKey processes key events in capacity mode.
func (p *CapacityPrompt) HandleKey(a App, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = ModeNormal
		a.prompt = nil
		return a, nil

	case "enter":
		n, err := p.Value()
		if err != nil {
			p.err = "enter a whole number"
			return a, nil
		}
		a.mode = ModeNormal
		a.prompt = nil
		if a.client == nil {
			a.statusMsg = "not connected"
			return a, nil
		}
		a.statusMsg = "resizing..."
		return a, commandCmd(a.client, "capacity", uds.MethodSetCapacity, uds.SetCapacityRequest{Capacity: n})

	default:
		p.err = ""
		var cmd tea.Cmd
		p.input, cmd = p.input.Update(msg)
		return a, cmd
	}
}

// View renders the prompt.
func (p *CapacityPrompt) View() string {
	s := titleStyle.Render(" Capacity ") + "\n\n"
	s += "▸ " + dimStyle.Render("max entries: ") + p.input.View() + "\n"
	if p.err != "" {
		s += "\n" + errorStyle.Render("  "+p.err)
	}
	s += "\n" + helpStyle.Render("  enter:apply  esc:cancel")
	return s
}
