package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/joshuapare/kestrel/kernel"
	"github.com/joshuapare/kestrel/memory/pmm"
	"github.com/joshuapare/kestrel/sched"
)

const (
	maxSpeed  = 64
	barWidth  = 40
	frameRate = 100 * time.Millisecond
)

var topSpeed int

// writeClipboard is the system clipboard writer.
var writeClipboard = clipboard.WriteAll

func init() {
	cmd := newTopCmd()
	cmd.Flags().IntVar(&topSpeed, "speed", 1, "Timer ticks per screen refresh")
	rootCmd.AddCommand(cmd)
}

func newTopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Watch the kernel run interactively",
		Long: `The top command boots the kernel and shows frame usage, the region
budget, the process table and the console while the demo workload runs.

Example:
  kestrelctl top
  kestrelctl top --speed 8 --refresh on-change`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := bootKernel(nil)
			if err != nil {
				return err
			}
			defer k.Close()

			p := tea.NewProgram(newTopModel(k, topSpeed), tea.WithAltScreen())
			final, err := p.Run()
			if err != nil {
				return fmt.Errorf("top: %w", err)
			}
			if m, ok := final.(topModel); ok && m.err != nil {
				return m.err
			}
			return nil
		},
	}
}

type frameMsg time.Time

type topModel struct {
	k      *kernel.Kernel
	keys   KeyMap
	speed  int
	paused bool
	follow bool
	ticks  uint64

	showHelp      bool
	showDetail    bool
	statusMessage string

	stats   kernel.Stats
	console viewport.Model
	width   int
	height  int
	err     error
}

func newTopModel(k *kernel.Kernel, speed int) topModel {
	speed = max(1, min(speed, maxSpeed))
	m := topModel{
		k:       k,
		keys:    DefaultKeyMap(),
		speed:   speed,
		follow:  true,
		console: viewport.New(80, 10),
	}
	m.refresh()
	return m
}

func nextFrame() tea.Cmd {
	return tea.Tick(frameRate, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m topModel) Init() tea.Cmd {
	return nextFrame()
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showHelp || m.showDetail {
			switch {
			case key.Matches(msg, m.keys.Quit):
				return m, tea.Quit
			case key.Matches(msg, m.keys.Esc),
				m.showHelp && key.Matches(msg, m.keys.Help),
				m.showDetail && key.Matches(msg, m.keys.Detail):
				m.showHelp, m.showDetail = false, false
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = true
		case key.Matches(msg, m.keys.Detail):
			m.showDetail = true
		case key.Matches(msg, m.keys.Copy):
			m.copyConsole()
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Step):
			m.advance(1)
		case key.Matches(msg, m.keys.Faster):
			m.speed = min(m.speed*2, maxSpeed)
		case key.Matches(msg, m.keys.Slower):
			m.speed = max(m.speed/2, 1)
		case key.Matches(msg, m.keys.Follow):
			m.follow = !m.follow
			if m.follow {
				m.console.GotoBottom()
			}
		default:
			var cmd tea.Cmd
			m.console, cmd = m.console.Update(msg)
			m.follow = m.console.AtBottom()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.console.Width = max(msg.Width-4, 20)
		m.console.Height = max(msg.Height-m.fixedHeight(), 3)
		m.refresh()
		return m, nil

	case frameMsg:
		if m.err != nil {
			return m, nil
		}
		if !m.paused {
			m.advance(m.speed)
		}
		return m, nextFrame()
	}
	return m, nil
}

// copyConsole puts the console transcript on the system clipboard.
func (m *topModel) copyConsole() {
	text := m.k.Console.Transcript()
	if err := writeClipboard(text); err != nil {
		m.statusMessage = "Copy failed: " + err.Error()
		return
	}
	m.statusMessage = fmt.Sprintf("Copied %s of console output", formatBytes(uint64(len(text))))
}

// advance runs n ticks and refreshes the sampled state.
func (m *topModel) advance(n int) {
	if err := m.k.Run(context.Background(), n); err != nil {
		m.err = err
		m.paused = true
	}
	m.ticks += uint64(n)
	m.refresh()
}

func (m *topModel) refresh() {
	m.stats = m.k.Stats()
	m.console.SetContent(m.k.Console.Transcript())
	if m.follow {
		m.console.GotoBottom()
	}
}

// fixedHeight is the number of rows outside the console pane.
func (m topModel) fixedHeight() int {
	threads := 0
	for _, p := range m.stats.Processes {
		threads += len(p.Threads)
	}
	return 13 + len(m.stats.Processes) + threads
}

func (m topModel) View() string {
	switch {
	case m.showHelp:
		return withPanel(&m, &panel{title: "keys", body: helpBody(m.keys)})
	case m.showDetail:
		title, body := detailBody(m.stats.Processes)
		return withPanel(&m, &panel{title: title, body: body})
	}
	return m.renderMain()
}

// renderMain draws the header, usage bars, process table and console.
func (m *topModel) renderMain() string {
	st := m.stats
	var b strings.Builder

	state := "running"
	if m.paused {
		state = "paused"
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("kestrel  uptime %d ms  tick %s  x%d  %s",
		st.UptimeMs, formatNumber(m.ticks), m.speed, state)))
	b.WriteString("\n\n")

	b.WriteString(framesBar(st.Frames, barWidth))
	b.WriteString("\n")
	b.WriteString(regionBar(st.Regions.AllocatedPages, st.Regions.CapacityPages, st.Regions.Objects, barWidth))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(fmt.Sprintf("switches %s thread / %s process  reaped %d/%d  tlb %s hits %s misses",
		formatNumber(st.Sched.ThreadSwitches), formatNumber(st.Sched.ProcessSwitch),
		st.Sched.ReapedThreads, st.Sched.ReapedTasks,
		formatNumber(st.TLB.Hits), formatNumber(st.TLB.Misses))))
	b.WriteString("\n\n")

	b.WriteString(processTable(st.Processes))
	b.WriteString("\n")

	console := paneTitleStyle.Render("console") + "\n" + m.console.View()
	b.WriteString(paneStyle.Render(console))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("machine stopped: " + m.err.Error()))
		b.WriteString("\n")
	}
	if m.statusMessage != "" {
		b.WriteString(messageStyle.Render(m.statusMessage))
		b.WriteString("\n")
	}
	b.WriteString(helpLine(m.keys))
	return b.String()
}

// framesBar renders used, reserved and free frames as one bar.
func framesBar(st pmm.Stats, width int) string {
	total := st.Total()
	if total == 0 {
		return "frames   " + strings.Repeat(" ", width)
	}
	used := int(st.Used * uint64(width) / total)
	reserved := int(st.Reserved * uint64(width) / total)
	free := max(width-used-reserved, 0)
	bar := stateStyles[pmm.Used].Render(strings.Repeat("█", used)) +
		stateStyles[pmm.Reserved].Render(strings.Repeat("▓", reserved)) +
		stateStyles[pmm.Free].Render(strings.Repeat("░", free))
	return fmt.Sprintf("frames   %s %5.1f%% used  %s free", bar, percent(st.Used, total), formatBytes(st.Free))
}

// regionBar renders the region window page budget.
func regionBar(allocated, capacity uint64, objects, width int) string {
	filled := 0
	if capacity > 0 {
		filled = int(allocated * uint64(width) / capacity)
	}
	bar := lipgloss.NewStyle().Foreground(secondaryColor).Render(strings.Repeat("█", filled)) +
		stateStyles[pmm.Free].Render(strings.Repeat("░", max(width-filled, 0)))
	return fmt.Sprintf("regions  %s %d/%d pages  %d objects", bar, allocated, capacity, objects)
}

// processTable lists every process with its threads indented below.
func processTable(procs []sched.ProcessInfo) string {
	var b strings.Builder
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%5s %-5s %-12s %-9s %-6s %s", "PID", "TID", "NAME", "STATUS", "MODE", "RIP")))
	b.WriteString("\n")
	for _, p := range procs {
		mode := "kernel"
		if p.User {
			mode = "user"
		}
		row := fmt.Sprintf("%5d %-5s %-12s %-9s %-6s", p.PID, "", p.Name, p.Status, mode)
		b.WriteString(schedStyle(p.Status).Render(row))
		b.WriteString("\n")
		for _, t := range p.Threads {
			line := fmt.Sprintf("%5s %-5d %-12s %-9s %-6s %#x", "", t.TID, t.Name, t.Status, "", t.RIP)
			if t.Active {
				b.WriteString(activeRowStyle.Render(line))
			} else {
				b.WriteString(schedStyle(t.Status).Render(line))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func helpLine(k KeyMap) string {
	parts := make([]string, 0, len(k.ShortHelp()))
	for _, b := range k.ShortHelp() {
		h := b.Help()
		parts = append(parts, helpKeyStyle.Render(h.Key)+" "+h.Desc)
	}
	return statusStyle.Render(strings.Join(parts, "  "))
}
