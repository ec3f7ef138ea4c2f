package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	overlay "github.com/rmhubbert/bubbletea-overlay"

	"github.com/joshuapare/kestrel/sched"
)

// baseView renders the main top screen as an overlay background.
type baseView struct {
	model *topModel
}

func (b *baseView) Init() tea.Cmd { return nil }

// Update is a no-op; the parent topModel handles every message.
func (b *baseView) Update(msg tea.Msg) (tea.Model, tea.Cmd) { return b, nil }

func (b *baseView) View() string { return b.model.renderMain() }

// panel is a bordered box drawn over the main screen.
type panel struct {
	title string
	body  string
}

func (p *panel) Init() tea.Cmd                           { return nil }
func (p *panel) Update(msg tea.Msg) (tea.Model, tea.Cmd) { return p, nil }

func (p *panel) View() string {
	return activePaneStyle.Render(paneTitleStyle.Render(p.title) + "\n\n" + p.body)
}

// withPanel centres p over the main screen of m.
func withPanel(m *topModel, p *panel) string {
	return overlay.New(p, &baseView{model: m}, overlay.Center, overlay.Center, 0, 0).View()
}

// helpBody lists every binding.
func helpBody(k KeyMap) string {
	var b strings.Builder
	for _, kb := range k.FullHelp() {
		h := kb.Help()
		fmt.Fprintf(&b, "%s  %s\n", helpKeyStyle.Render(fmt.Sprintf("%-6s", h.Key)), h.Desc)
	}
	b.WriteString("\n" + statusStyle.Render("esc or ? to close"))
	return b.String()
}

// detailBody describes the running process and its threads, or the idle
// process when nothing else is active.
func detailBody(procs []sched.ProcessInfo) (string, string) {
	if len(procs) == 0 {
		return "process", "no processes"
	}
	p := procs[0]
	for _, q := range procs {
		if q.Active {
			p = q
			break
		}
	}

	var b strings.Builder
	b.WriteString(processLine(p))
	b.WriteString("\n\n")
	for _, t := range p.Threads {
		line := threadLine(t)
		if t.Active {
			line = activeRowStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n" + statusStyle.Render("esc or d to close"))
	return fmt.Sprintf("process %d: %s", p.PID, p.Name), b.String()
}
