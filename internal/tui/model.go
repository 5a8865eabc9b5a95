// Package tui is the interactive dashboard shown when the tool is invoked
// without a subcommand: recent runs, their progress, and the error detail of
// a selected run, refreshed live while a sync is in flight.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/johndauphine/bizsync/internal/model"
	"github.com/johndauphine/bizsync/internal/store"
)

// TickMsg drives the periodic refresh.
type TickMsg time.Time

// runsMsg carries a reloaded run list.
type runsMsg struct {
	runs []*model.SyncState
	err  error
}

// Model is the dashboard TUI model.
type Model struct {
	store    store.Store
	runs     []*model.SyncState
	selected int
	detail   viewport.Model
	showing  bool // detail pane open
	ready    bool
	width    int
	height   int
	err      error
}

// NewModel creates the dashboard backed by a store.
func NewModel(st store.Store) Model {
	return Model{store: st}
}

// Run starts the dashboard and blocks until the user quits.
func Run(st store.Store) error {
	_, err := tea.NewProgram(NewModel(st), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadRuns(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) loadRuns() tea.Cmd {
	st := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		runs, err := st.ListSyncStates(ctx, 20)
		return runsMsg{runs: runs, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.detail = viewport.New(msg.Width-4, msg.Height-6)
		m.ready = true
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.loadRuns(), tick())

	case runsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.runs = msg.runs
			if m.selected >= len(m.runs) {
				m.selected = max(0, len(m.runs)-1)
			}
			if m.showing {
				m.detail.SetContent(m.detailContent())
			}
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.runs)-1 {
				m.selected++
			}
		case "enter":
			if len(m.runs) > 0 {
				m.showing = true
				m.detail.SetContent(m.detailContent())
			}
		case "esc":
			m.showing = false
		case "r":
			return m, m.loadRuns()
		default:
			if m.showing {
				var cmd tea.Cmd
				m.detail, cmd = m.detail.Update(msg)
				return m, cmd
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	if m.showing {
		return m.detailView()
	}
	return m.listView()
}

func (m Model) listView() string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("bizsync: recent runs"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(styleFailed.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	}
	if len(m.runs) == 0 {
		b.WriteString(styleRow.Render("no runs yet. start one with: bizsync run"))
		b.WriteString("\n")
	}

	for i, run := range m.runs {
		line := fmt.Sprintf("%-12s  %-11s  %3.0f%%  %3d/%-3d  %s",
			shortID(run.ID),
			run.Status,
			run.Progress.Percent,
			run.Progress.Completed,
			run.Progress.Total,
			run.StartedAt.Local().Format("Jan 02 15:04"),
		)
		if i == m.selected {
			b.WriteString(styleSelected.Render("> " + line))
		} else {
			b.WriteString("  " + statusStyle(run.Status).Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString(styleHelp.Render("↑/↓ select · enter detail · r refresh · q quit"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (m Model) detailView() string {
	title := "run detail"
	if m.selected < len(m.runs) {
		title = "run " + shortID(m.runs[m.selected].ID)
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(
		styleTitle.Render(title) + "\n" +
			styleViewport.Render(m.detail.View()) + "\n" +
			styleHelp.Render("↑/↓ scroll · esc back · q quit"))
}

func (m Model) detailContent() string {
	if m.selected >= len(m.runs) {
		return ""
	}
	run := m.runs[m.selected]

	var b strings.Builder
	fmt.Fprintf(&b, "ID:        %s\n", run.ID)
	fmt.Fprintf(&b, "Status:    %s\n", statusStyle(run.Status).Render(run.Status))
	fmt.Fprintf(&b, "Step:      %s\n", run.CurrentStep)
	fmt.Fprintf(&b, "Account:   %s\n", run.ExternalAccountID)
	fmt.Fprintf(&b, "Progress:  %d/%d locations (%.0f%%)\n",
		run.Progress.Completed, run.Progress.Total, run.Progress.Percent)
	fmt.Fprintf(&b, "Started:   %s\n", run.StartedAt.Local().Format(time.RFC1123))
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished:  %s\n", run.CompletedAt.Local().Format(time.RFC1123))
	}

	if len(run.Checkpoints) > 0 {
		b.WriteString("\nCheckpoints:\n")
		start := max(0, len(run.Checkpoints)-15)
		for _, cp := range run.Checkpoints[start:] {
			label := cp.Step
			if cp.DataType != "" {
				label += "/" + string(cp.DataType)
			}
			if cp.LocationID != "" {
				label += " " + cp.LocationID
			}
			fmt.Fprintf(&b, "  %-40s %s (%d records)\n", label, cp.Status, cp.RecordCount)
		}
	}

	if len(run.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		start := max(0, len(run.Errors)-10)
		for _, e := range run.Errors[start:] {
			fmt.Fprintf(&b, "  %s", styleFailed.Render(e.Message))
			if e.LocationID != "" {
				fmt.Fprintf(&b, " (%s)", e.LocationID)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
