// Package display renders interactive progress for a competition run: a
// live countdown while a match is solving and a styled line per
// outcome. It is presentation only; suppressing it never changes client
// behavior.
package display

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/leagueofsolvers/satclient/types"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	clockStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	satStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	unsatStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	neutralStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	abortStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
)

func verdictStyle(v types.Verdict) lipgloss.Style {
	switch v {
	case types.VerdictSat:
		return satStyle
	case types.VerdictUnsat:
		return unsatStyle
	default:
		return neutralStyle
	}
}

type matchStartedMsg struct {
	sessionID string
	deadline  time.Time
}

type matchFinishedMsg struct {
	sessionID string
	verdict   types.Verdict
	reason    types.Reason
}

type matchAbortedMsg struct {
	sessionID string
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// model is the bubbletea state for the countdown view.
type model struct {
	active    bool
	sessionID string
	deadline  time.Time
	now       time.Time
	history   []string
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case matchStartedMsg:
		m.active = true
		m.sessionID = msg.sessionID
		m.deadline = msg.deadline
		m.now = time.Now()
		return m, nil

	case matchFinishedMsg:
		m.active = false
		line := fmt.Sprintf("%s %s %s (%s)",
			labelStyle.Render("match"),
			msg.sessionID,
			verdictStyle(msg.verdict).Render(string(msg.verdict)),
			msg.reason)
		m.history = appendHistory(m.history, line)
		return m, nil

	case matchAbortedMsg:
		m.active = false
		line := fmt.Sprintf("%s %s %s",
			labelStyle.Render("match"),
			msg.sessionID,
			abortStyle.Render("aborted"))
		m.history = appendHistory(m.history, line)
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

// historyLimit keeps the outcome log from growing without bound during
// long runs.
const historyLimit = 20

func appendHistory(h []string, line string) []string {
	h = append(h, line)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	return h
}

func (m model) View() string {
	var out string
	for _, line := range m.history {
		out += line + "\n"
	}
	if m.active {
		remaining := m.deadline.Sub(m.now).Round(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		out += fmt.Sprintf("%s %s %s\n",
			labelStyle.Render("solving"),
			m.sessionID,
			clockStyle.Render(formatRemaining(remaining)))
	} else {
		out += neutralStyle.Render("waiting for match announcement") + "\n"
	}
	return out
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d remaining", total/60, total%60)
}

// Display feeds match lifecycle events into a running countdown view.
// All methods are non-blocking.
type Display struct {
	prog *tea.Program
	done chan struct{}
}

// New starts the countdown view writing to out.
func New(out io.Writer) *Display {
	prog := tea.NewProgram(model{},
		tea.WithOutput(out),
		tea.WithoutSignalHandler(),
	)
	d := &Display{prog: prog, done: make(chan struct{})}
	go func() {
		defer close(d.done)
		_, _ = prog.Run()
	}()
	return d
}

// MatchStarted begins the countdown for a session.
func (d *Display) MatchStarted(sessionID string, deadline time.Time) {
	d.prog.Send(matchStartedMsg{sessionID: sessionID, deadline: deadline})
}

// MatchFinished records an outcome line and stops the countdown.
func (d *Display) MatchFinished(sessionID string, verdict types.Verdict, reason types.Reason) {
	d.prog.Send(matchFinishedMsg{sessionID: sessionID, verdict: verdict, reason: reason})
}

// MatchAborted records an aborted match and stops the countdown.
func (d *Display) MatchAborted(sessionID string) {
	d.prog.Send(matchAbortedMsg{sessionID: sessionID})
}

// Close stops the view and waits for the final frame.
func (d *Display) Close() {
	d.prog.Quit()
	<-d.done
}
