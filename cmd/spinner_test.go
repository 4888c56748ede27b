package cmd

import (
	"testing"

	"github.com/bnema/arena-relay/internal/adapters/httpapi"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollLabel(t *testing.T) {
	tests := []struct {
		name string
		body httpapi.StatusBody
		want string
	}{
		{name: "booting", want: "waiting for browser host"},
		{name: "failing", body: httpapi.StatusBody{Host: httpapi.HostBody{ConsecutiveFails: 3}}, want: "browser host down, 3 failed boots"},
		{
			name: "busy",
			body: httpapi.StatusBody{MaxTabs: 4, Live: 4, Creating: 1, Queued: 2, Host: httpapi.HostBody{Connected: true}},
			want: "4/4 sessions live, 0 idle, 1 opening, 2 queued",
		},
		{
			name: "quiet",
			body: httpapi.StatusBody{MaxTabs: 4, Live: 1, Idle: 1, Host: httpapi.HostBody{Connected: true}},
			want: "1/4 sessions live, 1 idle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pollLabel(tt.body))
		})
	}
}

func TestHostReady(t *testing.T) {
	assert.False(t, hostReady(httpapi.StatusBody{MaxTabs: 2}))
	assert.True(t, hostReady(httpapi.StatusBody{MaxTabs: 2, Live: 1, Host: httpapi.HostBody{Connected: true}}))
	assert.False(t, hostReady(httpapi.StatusBody{MaxTabs: 2, Live: 2, Host: httpapi.HostBody{Connected: true}}))
	assert.True(t, hostReady(httpapi.StatusBody{MaxTabs: 2, Live: 2, Idle: 1, Host: httpapi.HostBody{Connected: true}}))
}

func TestStatusPollerKeepsPollingUntilReady(t *testing.T) {
	fetch := func() tea.Msg { return nil }
	m := newStatusPoller(fetch, hostReady, 0)
	assert.Equal(t, defaultPollInterval, m.interval)

	cold := httpapi.StatusBody{MaxTabs: 2}
	next, cmd := m.Update(statusPolledMsg{body: cold})
	m = next.(statusPoller)
	require.NotNil(t, cmd)
	assert.False(t, m.done)
	assert.Contains(t, m.View(), "waiting for browser host")

	warm := httpapi.StatusBody{MaxTabs: 2, Host: httpapi.HostBody{Connected: true}}
	next, _ = m.Update(statusPolledMsg{body: warm})
	m = next.(statusPoller)
	assert.True(t, m.done)
	assert.Equal(t, 2, m.polls)
	assert.Equal(t, warm, m.body)
	assert.Empty(t, m.View())
}

func TestStatusPollerStopsOnFetchError(t *testing.T) {
	m := newStatusPoller(func() tea.Msg { return nil }, hostReady, 0)

	next, _ := m.Update(statusPolledMsg{err: assert.AnError})
	m = next.(statusPoller)
	assert.True(t, m.done)
	assert.ErrorIs(t, m.err, assert.AnError)
}
