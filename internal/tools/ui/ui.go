// Package ui renders an interactive spinner while an ssoctl task runs, then a result panel.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const taskTimeout = 3 * time.Minute

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(2)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

type TaskFunc func(ctx context.Context) ([]string, error)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
	cancel  context.CancelFunc
	run     func() tea.Msg
}

func newModel(title string, ctx context.Context, cancel context.CancelFunc, fn TaskFunc) model {
	return model{
		title:   title,
		started: time.Now(),
		cancel:  cancel,
		run: func() tea.Msg {
			details, err := fn(ctx)
			return doneMsg{details: details, err: err}
		},
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.run)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
			m.err = context.Canceled
			m.done = true
			return m, tea.Quit
		}
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	if !m.done {
		return fmt.Sprintf("%s %s %s\n", spinnerStyle.Render(spinnerFrames[m.frame]), titleStyle.Render(m.title), detailStyle.Render(time.Since(m.started).Round(time.Second).String()))
	}
	return render(m.title, m.details, m.err)
}

func render(title string, details []string, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(failStyle.Render("✗ "+title) + "\n")
	} else {
		b.WriteString(okStyle.Render("✓ "+title) + "\n")
	}
	for _, d := range details {
		b.WriteString(detailStyle.Render(d) + "\n")
	}
	if err != nil {
		b.WriteString(detailStyle.Render("error: "+err.Error()) + "\n")
	}
	return b.String()
}

// Run executes fn behind a spinner and returns its outcome once the program exits.
func Run(title string, fn TaskFunc) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()
	final, err := tea.NewProgram(newModel(title, ctx, cancel, fn)).Run()
	if err != nil {
		return nil, fmt.Errorf("run ui: %w", err)
	}
	m := final.(model)
	return m.details, m.err
}
