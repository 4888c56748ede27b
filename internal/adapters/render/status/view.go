package status

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now time.Time
	// IdleWarnAfter flags a host whose last activity is older than this. Zero disables the flag.
	IdleWarnAfter time.Duration
	// Width is the terminal width. The capacity bar grows with it; zero keeps the default.
	Width int
}

const (
	barWidth    = 24
	minBarWidth = 10
	maxBarWidth = 60
	// barSlack is the room the capacity line needs around the bar itself.
	barSlack = 40
)

func renderView(snap domain.PoolSnapshot, health Health, opts RenderOptions, s styles) string {
	lines := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, s.title.Render("Arena Relay"), " ", s.badge(health).Render(string(health))),
		s.header.Render(fmt.Sprintf("sessions: %d live, %d in use, %d idle, %d queued", snap.Live, snap.InUse, snap.Idle, snap.Queued)),
		capacityLine(snap, capacityBarWidth(opts.Width), s),
		s.section.Render(renderHost(snap.Host, opts, s)),
	}

	if len(snap.Sessions) == 0 {
		lines = append(lines, s.section.Render(s.empty.Render("No live sessions.")))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	sessions := append([]domain.SessionInfo(nil), snap.Sessions...)
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	rows := make([]string, 0, len(sessions))
	for _, info := range sessions {
		rows = append(rows, sessionLine(info, opts, s))
	}
	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func capacityBarWidth(termWidth int) int {
	if termWidth <= 0 {
		return barWidth
	}
	return max(minBarWidth, min(maxBarWidth, termWidth-barSlack))
}

func capacityLine(snap domain.PoolSnapshot, width int, s styles) string {
	used := 0.0
	if snap.MaxTabs > 0 {
		used = float64(snap.Live+snap.Creating) / float64(snap.MaxTabs) * 100
	}
	freePercent := clampPercent(100 - used)
	meta := lipgloss.NewStyle().Foreground(interpolateColor(freePercent, 0, 100)).
		Render(fmt.Sprintf("%d/%d tabs", snap.Live+snap.Creating, snap.MaxTabs))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render("capacity:"),
		" ",
		renderProgressBar(used, width, s),
		" ",
		meta,
		" ",
		s.meta.Render(fmt.Sprintf("(warm pool %d)", snap.MaxPoolSize)),
	)
}

func renderHost(host domain.HostInfo, opts RenderOptions, s styles) string {
	state := s.warning.Render("disconnected")
	if host.Connected {
		state = s.healthy.Render("connected")
	}

	profile := host.Profile
	if profile == "" {
		profile = "none"
	}

	parts := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, s.host.Render("host"), " ", state),
		s.detail.Render(fmt.Sprintf("profile: %s", profile)),
		s.detail.Render(fmt.Sprintf("uptime: %s", formatAge(host.StartedAt, opts.Now))),
	}

	activity := s.detail.Render(fmt.Sprintf("last activity: %s", formatAgo(host.LastActivityAt, opts.Now)))
	if opts.IdleWarnAfter > 0 && !opts.Now.IsZero() && !host.LastActivityAt.IsZero() &&
		opts.Now.Sub(host.LastActivityAt) > opts.IdleWarnAfter {
		activity += " " + s.warning.Render("[idle]")
	}
	parts = append(parts, activity)

	failures := s.detail.Render(fmt.Sprintf("consecutive failures: %d", host.ConsecutiveFails))
	if host.ConsecutiveFails > 0 {
		failures = s.warning.Render(fmt.Sprintf("consecutive failures: %d", host.ConsecutiveFails))
	}
	parts = append(parts, failures, s.detail.Render(fmt.Sprintf("restarts: %d", host.Restarts)))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func sessionLine(info domain.SessionInfo, opts RenderOptions, s styles) string {
	state := s.idle.Render("idle  ")
	owner := ""
	if info.InUse {
		state = s.busy.Render("in use")
		owner = s.meta.Render(fmt.Sprintf("request %s, lease %s", info.RequestID, formatAgo(info.LeaseAt, opts.Now)))
	}
	if info.Closed {
		state = s.warning.Render("closed")
	}

	return strings.TrimRight(lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render(string(info.ID)),
		" ",
		state,
		" ",
		s.meta.Render(fmt.Sprintf("age %s", formatAge(info.CreatedAt, opts.Now))),
		" ",
		owner,
	), " ")
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	filled := int(math.Round(float64(width) * used / 100.0))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatAge(since, now time.Time) string {
	if since.IsZero() {
		return "n/a"
	}
	if now.IsZero() {
		return "since " + since.Format(time.RFC3339)
	}
	return humanDuration(now.Sub(since))
}

func formatAgo(at, now time.Time) string {
	if at.IsZero() {
		return "never"
	}
	if now.IsZero() {
		return at.Format("15:04:05")
	}
	return humanDuration(now.Sub(at)) + " ago"
}

func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// interpolateColor maps value onto the greyscale ramp, 240 at min to 255 at max.
func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	return lipgloss.Color(fmt.Sprintf("%d", int(240.0+15.0*normalized)))
}
