package status

import (
	"strings"
	"testing"
	"time"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBusyPool(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render(domain.PoolSnapshot{
		MaxPoolSize: 3,
		MaxTabs:     5,
		Live:        2,
		InUse:       1,
		Idle:        1,
		Queued:      4,
		Sessions: []domain.SessionInfo{
			{ID: "s-2", CreatedAt: now.Add(-time.Minute)},
			{ID: "s-1", InUse: true, RequestID: "req-9", CreatedAt: now.Add(-10 * time.Minute), LeaseAt: now.Add(-3 * time.Second)},
		},
		Host: domain.HostInfo{
			Connected:      true,
			StartedAt:      now.Add(-90 * time.Minute),
			LastActivityAt: now.Add(-5 * time.Second),
			Profile:        "chrome-windows",
			Restarts:       2,
		},
	}, RenderOptions{Now: now, IdleWarnAfter: 5 * time.Minute})

	require.NoError(t, err)
	assert.Contains(t, output, "saturated")
	assert.Contains(t, output, "2 live, 1 in use, 1 idle, 4 queued")
	assert.Contains(t, output, "2/5 tabs")
	assert.Contains(t, output, "(warm pool 3)")
	assert.Contains(t, output, "connected")
	assert.Contains(t, output, "profile: chrome-windows")
	assert.Contains(t, output, "uptime: 1h30m")
	assert.Contains(t, output, "restarts: 2")
	assert.Contains(t, output, "request req-9, lease 3s ago")
	assert.NotContains(t, output, "[idle]")
	assert.Less(t, strings.Index(output, "s-1"), strings.Index(output, "s-2"))
}

func TestRenderEmptyDisconnectedPool(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render(domain.PoolSnapshot{MaxPoolSize: 3, MaxTabs: 5}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "down")
	assert.Contains(t, output, "disconnected")
	assert.Contains(t, output, "profile: none")
	assert.Contains(t, output, "last activity: never")
	assert.Contains(t, output, "No live sessions.")
	assert.Contains(t, output, "0/5 tabs")
}

func TestRenderFlagsIdleHostAndFailures(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render(domain.PoolSnapshot{
		MaxTabs: 5,
		Host: domain.HostInfo{
			Connected:        true,
			StartedAt:        now.Add(-time.Hour),
			LastActivityAt:   now.Add(-10 * time.Minute),
			ConsecutiveFails: 2,
		},
	}, RenderOptions{Now: now, IdleWarnAfter: 5 * time.Minute})

	require.NoError(t, err)
	assert.Contains(t, output, "degraded")
	assert.Contains(t, output, "[idle]")
	assert.Contains(t, output, "last activity: 10m00s ago")
	assert.Contains(t, output, "consecutive failures: 2")
}

func TestRenderProgressBarBounds(t *testing.T) {
	s := newStyles()

	assert.Contains(t, renderProgressBar(150, 4, s), "====")
	assert.Contains(t, renderProgressBar(-10, 4, s), "----")
	assert.Empty(t, renderProgressBar(50, 0, s))
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: -time.Second, want: "0s"},
		{in: 42 * time.Second, want: "42s"},
		{in: 3*time.Minute + 7*time.Second, want: "3m07s"},
		{in: 26*time.Hour + 5*time.Minute, want: "26h05m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanDuration(tt.in))
	}
}

func TestAssess(t *testing.T) {
	up := domain.HostInfo{Connected: true}
	tests := []struct {
		name string
		snap domain.PoolSnapshot
		want Health
	}{
		{name: "no host", snap: domain.PoolSnapshot{MaxTabs: 2, Idle: 1}, want: HealthDown},
		{name: "failing boots", snap: domain.PoolSnapshot{MaxTabs: 2, Host: domain.HostInfo{Connected: true, ConsecutiveFails: 1}}, want: HealthDegraded},
		{name: "queue", snap: domain.PoolSnapshot{MaxTabs: 2, Live: 1, Idle: 1, Queued: 1, Host: up}, want: HealthSaturated},
		{name: "all tabs busy", snap: domain.PoolSnapshot{MaxTabs: 2, Live: 1, Creating: 1, Host: up}, want: HealthSaturated},
		{name: "idle session", snap: domain.PoolSnapshot{MaxTabs: 2, Live: 2, Idle: 1, Host: up}, want: HealthReady},
		{name: "room to open", snap: domain.PoolSnapshot{MaxTabs: 2, Host: up}, want: HealthReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Assess(tt.snap))
		})
	}
}

func TestRenderScalesCapacityBarToWidth(t *testing.T) {
	snap := domain.PoolSnapshot{MaxTabs: 4, Live: 4, Host: domain.HostInfo{Connected: true}}

	wide, err := Render(snap, RenderOptions{Width: 80})
	require.NoError(t, err)
	assert.Contains(t, wide, "["+strings.Repeat("=", 40)+"]")

	narrow, err := Render(snap, RenderOptions{Width: 20})
	require.NoError(t, err)
	assert.Contains(t, narrow, "["+strings.Repeat("=", minBarWidth)+"]")

	unknown, err := Render(snap, RenderOptions{})
	require.NoError(t, err)
	assert.Contains(t, unknown, "["+strings.Repeat("=", barWidth)+"]")
}

func TestCapacityBarWidth(t *testing.T) {
	assert.Equal(t, barWidth, capacityBarWidth(0))
	assert.Equal(t, minBarWidth, capacityBarWidth(30))
	assert.Equal(t, 60, capacityBarWidth(100))
	assert.Equal(t, maxBarWidth, capacityBarWidth(400))
}
