package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bnema/arena-relay/internal/adapters/httpapi"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const defaultPollInterval = 500 * time.Millisecond

type statusPolledMsg struct {
	body httpapi.StatusBody
	err  error
}

// statusPoller keeps fetching relay status until ready accepts a snapshot. A nil ready stops after
// the first successful fetch.
type statusPoller struct {
	spinner  spinner.Model
	label    string
	fetch    func() tea.Msg
	ready    func(httpapi.StatusBody) bool
	interval time.Duration

	body  httpapi.StatusBody
	polls int
	err   error
	done  bool
}

func newStatusPoller(fetch func() tea.Msg, ready func(httpapi.StatusBody) bool, interval time.Duration) statusPoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return statusPoller{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
		),
		label:    "contacting relay",
		fetch:    fetch,
		ready:    ready,
		interval: interval,
	}
}

func (m statusPoller) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch)
}

func (m statusPoller) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case statusPolledMsg:
		m.polls++
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		m.body = msg.body
		m.label = pollLabel(msg.body)
		if m.ready == nil || m.ready(msg.body) {
			m.done = true
			return m, tea.Quit
		}
		fetch := m.fetch
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return fetch() })
	}
	return m, nil
}

func (m statusPoller) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

// pollLabel summarises what the relay is doing right now.
func pollLabel(b httpapi.StatusBody) string {
	if !b.Host.Connected {
		if b.Host.ConsecutiveFails > 0 {
			return fmt.Sprintf("browser host down, %d failed boots", b.Host.ConsecutiveFails)
		}
		return "waiting for browser host"
	}
	label := fmt.Sprintf("%d/%d sessions live, %d idle", b.Live, b.MaxTabs, b.Idle)
	if b.Creating > 0 {
		label += fmt.Sprintf(", %d opening", b.Creating)
	}
	if b.Queued > 0 {
		label += fmt.Sprintf(", %d queued", b.Queued)
	}
	return label
}

// hostReady reports whether the relay can take an interaction without booting a browser first.
func hostReady(b httpapi.StatusBody) bool {
	return b.Host.Connected && (b.Idle > 0 || b.Live < b.MaxTabs)
}

// pollStatus renders a spinner on output while it fetches status, repeating every interval until
// ready accepts the result or ctx ends.
func pollStatus(ctx context.Context, output io.Writer, fetch func(context.Context) (httpapi.StatusBody, error), ready func(httpapi.StatusBody) bool, interval time.Duration) (httpapi.StatusBody, error) {
	fetchMsg := func() tea.Msg {
		body, err := fetch(ctx)
		return statusPolledMsg{body: body, err: err}
	}

	p := tea.NewProgram(
		newStatusPoller(fetchMsg, ready, interval),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return httpapi.StatusBody{}, ctx.Err()
		}
		return httpapi.StatusBody{}, err
	}

	result, ok := final.(statusPoller)
	if !ok {
		return httpapi.StatusBody{}, fmt.Errorf("unexpected final poller model type %T", final)
	}
	return result.body, result.err
}
