package status

import (
	"errors"
	"io"

	"github.com/bnema/arena-relay/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

// Health is the one word verdict shown next to the title.
type Health string

const (
	HealthDown      Health = "down"
	HealthDegraded  Health = "degraded"
	HealthSaturated Health = "saturated"
	HealthReady     Health = "ready"
)

// Assess grades a snapshot from the point of view of the next interaction.
func Assess(snap domain.PoolSnapshot) Health {
	switch {
	case !snap.Host.Connected:
		return HealthDown
	case snap.Host.ConsecutiveFails > 0:
		return HealthDegraded
	case snap.Queued > 0 || (snap.Idle == 0 && snap.MaxTabs > 0 && snap.Live+snap.Creating >= snap.MaxTabs):
		return HealthSaturated
	default:
		return HealthReady
	}
}

type assessedMsg struct {
	health Health
}

// model renders one frame: it grades the snapshot, draws it and quits.
type model struct {
	snapshot domain.PoolSnapshot
	opts     RenderOptions
	styles   styles
	health   Health
	frame    string
}

func (m model) Init() tea.Cmd {
	snap := m.snapshot
	return func() tea.Msg {
		return assessedMsg{health: Assess(snap)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(assessedMsg); ok {
		m.health = msg.health
		m.frame = renderView(m.snapshot, m.health, m.opts, m.styles)
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string { return m.frame }

// Render draws snapshot as the multi-line report printed by the status command.
func Render(snapshot domain.PoolSnapshot, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		model{snapshot: snapshot, opts: opts, styles: newStyles()},
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	final, err := p.Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}
	return m.View(), nil
}
