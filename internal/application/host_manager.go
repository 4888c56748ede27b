package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bnema/arena-relay/internal/backoff"
	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/metrics"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	RestartReasonAge          = "age"
	RestartReasonIdle         = "idle"
	RestartReasonDisconnected = "disconnected"
	RestartReasonRotation     = "rotation"
	RestartReasonManual       = "manual"

	hostFlightKey = "host"
	closeTimeout  = 10 * time.Second
)

// ChallengeCaptureScript runs before any page script. It wraps the verification widget's render
// call and records the first set of parameters it receives in window.__arenaChallenge.
const ChallengeCaptureScript = `(() => {
  if (window.__arenaChallengeHook) return;
  window.__arenaChallengeHook = true;
  const capture = (p) => {
    if (window.__arenaChallenge || !p) return;
    window.__arenaChallenge = {url: location.href, sitekey: p.sitekey || "", action: p.action || "", cData: p.cData || "", chlPageData: p.chlPageData || ""};
  };
  const wrap = (t) => {
    if (!t || t.__arenaWrapped) return t;
    const render = t.render;
    t.render = function (el, params) {
      try { capture(params); } catch (e) {}
      return render.apply(this, arguments);
    };
    t.__arenaWrapped = true;
    return t;
  };
  let current = wrap(window.turnstile);
  Object.defineProperty(window, "turnstile", {configurable: true, get() { return current; }, set(v) { current = wrap(v); }});
})();`

// ChallengeParamsExpr reads what ChallengeCaptureScript recorded.
const ChallengeParamsExpr = `window.__arenaChallenge || {}`

type HostConfig struct {
	Headless          bool
	UseProxy          bool
	MaxAge            time.Duration
	MaxIdle           time.Duration
	RestartGrace      time.Duration
	SettleDelay       time.Duration
	FailureThreshold  int
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	ViewportJitter    int
	Timezones         []string
	Boot              backoff.Policy
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		MaxAge:            30 * time.Minute,
		MaxIdle:           5 * time.Minute,
		RestartGrace:      10 * time.Minute,
		SettleDelay:       2 * time.Second,
		FailureThreshold:  3,
		ActionTimeout:     30 * time.Second,
		NavigationTimeout: 60 * time.Second,
		ViewportJitter:    24,
		Timezones:         []string{"America/New_York", "Europe/London", "Europe/Berlin", "America/Los_Angeles"},
		Boot:              backoff.DefaultPolicy(),
	}
}

// HostManager owns the single shared automation host and the pages opened on it.
type HostManager struct {
	cfg      HostConfig
	engine   ports.Engine
	proxies  ports.ProxyProvider
	profiles []domain.IdentityProfile
	clock    ports.Clock
	logger   zerolog.Logger
	flight   singleflight.Group

	mu             sync.Mutex
	browser        ports.Browser
	startedAt      time.Time
	lastActivityAt time.Time
	profileIdx     int
	timezoneIdx    int
	fails          int
	restarts       int
	rotatePending  bool
	deferredSince  time.Time
	closed         bool
	pages          map[string]ports.Page
	listeners      []func(reason string)
}

func NewHostManager(cfg HostConfig, engine ports.Engine, proxies ports.ProxyProvider, profiles []domain.IdentityProfile, clock ports.Clock) *HostManager {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if len(profiles) == 0 {
		profiles = domain.DefaultIdentityProfiles()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RestartGrace <= 0 {
		cfg.RestartGrace = DefaultHostConfig().RestartGrace
	}

	return &HostManager{
		cfg:      cfg,
		engine:   engine,
		proxies:  proxies,
		profiles: profiles,
		clock:    clock,
		logger:   arenalog.WithComponent("host"),
		pages:    make(map[string]ports.Page),
	}
}

// OnRestart registers fn to run whenever the host drops its pages.
func (h *HostManager) OnRestart(fn func(reason string)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Host returns the running host, booting it if needed. Concurrent callers share one boot.
func (h *HostManager) Host(ctx context.Context) (ports.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}
	browser := h.browser
	h.mu.Unlock()

	if browser != nil && browser.Connected() {
		return browser, nil
	}
	if browser != nil {
		h.logger.Warn().Msg("host disconnected, restarting")
		return h.restart(ctx, RestartReasonDisconnected)
	}
	return h.await(ctx, func(bootCtx context.Context) (ports.Browser, error) {
		return h.boot(bootCtx)
	})
}

// Restart closes every page and the host, waits for the settle delay and boots again.
func (h *HostManager) Restart(ctx context.Context) error {
	_, err := h.restart(ctx, RestartReasonManual)
	return err
}

func (h *HostManager) restart(ctx context.Context, reason string) (ports.Browser, error) {
	return h.await(ctx, func(bootCtx context.Context) (ports.Browser, error) {
		h.teardown(bootCtx, reason)
		if err := backoff.Sleep(bootCtx, h.cfg.SettleDelay); err != nil {
			return nil, err
		}
		return h.boot(bootCtx)
	})
}

// await runs fn under the shared flight. fn is detached from the caller's cancellation so one
// impatient caller cannot abort a boot other callers are waiting on.
func (h *HostManager) await(ctx context.Context, fn func(context.Context) (ports.Browser, error)) (ports.Browser, error) {
	ch := h.flight.DoChan(hostFlightKey, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ports.Browser), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HostManager) boot(ctx context.Context) (ports.Browser, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}
	if h.browser != nil && h.browser.Connected() {
		browser := h.browser
		h.mu.Unlock()
		return browser, nil
	}
	profile := h.profiles[h.profileIdx%len(h.profiles)]
	h.rotatePending = false
	h.mu.Unlock()

	logger := h.logger.With().Str(arenalog.FieldProfile, profile.Name).Logger()

	policy := h.cfg.Boot
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn().Err(err).Int(arenalog.FieldAttempt, attempt).Dur("delay", delay).Msg("host launch failed, retrying")
	}

	browser, err := backoff.Retry(ctx, policy, func(ctx context.Context) (ports.Browser, error) {
		return h.engine.Launch(ctx, ports.LaunchOptions{
			Proxy:    h.resolveProxy(ctx),
			Profile:  profile,
			Headless: h.cfg.Headless,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrHostInit, err)
	}

	now := h.clock.Now()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
		defer cancel()
		_ = browser.Close(closeCtx)
		return nil, domain.ErrPoolClosed
	}
	h.browser = browser
	h.startedAt = now
	h.lastActivityAt = now
	h.mu.Unlock()

	logger.Info().Msg("host started")
	return browser, nil
}

func (h *HostManager) resolveProxy(ctx context.Context) *domain.ProxyDescriptor {
	if !h.cfg.UseProxy || h.proxies == nil {
		return nil
	}
	proxy, err := h.proxies.GetProxy(ctx, true)
	if err != nil {
		h.logger.Warn().Err(err).Msg("proxy unavailable, connecting directly")
		return nil
	}
	if proxy != nil {
		h.logger.Debug().Str(arenalog.FieldProxy, proxy.Redacted()).Msg("using proxy")
	}
	return proxy
}

func (h *HostManager) teardown(ctx context.Context, reason string) {
	h.mu.Lock()
	browser := h.browser
	pages := h.pages
	listeners := append([]func(string){}, h.listeners...)
	h.browser = nil
	h.pages = make(map[string]ports.Page)
	h.deferredSince = time.Time{}
	h.restarts++
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}

	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	var g errgroup.Group
	for _, page := range pages {
		g.Go(func() error { return page.Close(closeCtx) })
	}
	if err := g.Wait(); err != nil {
		h.logger.Debug().Err(err).Msg("close pages during restart")
	}
	if browser != nil {
		if err := browser.Close(closeCtx); err != nil {
			h.logger.Warn().Err(err).Msg("close host")
		}
	}

	metrics.HostRestartTotal.WithLabelValues(reason).Inc()
	h.logger.Info().Str("reason", reason).Int("pages", len(pages)).Msg("host torn down")
}

// Maintain applies the restart policy. While busy reports sessions in use a due restart waits,
// for at most RestartGrace. A lost connection restarts at once since its pages are gone anyway.
func (h *HostManager) Maintain(ctx context.Context, busy bool) error {
	reason := h.restartReason()
	if reason == "" {
		return nil
	}
	if busy && reason != RestartReasonDisconnected {
		deferred, overdue := h.deferRestart()
		if !overdue {
			h.logger.Debug().Str("reason", reason).Dur("deferred", deferred).Msg("restart deferred, sessions in use")
			return nil
		}
		h.logger.Warn().Str("reason", reason).Dur("deferred", deferred).Msg("restart overdue, reclaiming sessions in use")
	}
	_, err := h.restart(ctx, reason)
	return err
}

// deferRestart records a postponed restart and reports whether it has waited past RestartGrace.
func (h *HostManager) deferRestart() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	if h.deferredSince.IsZero() {
		h.deferredSince = now
	}
	deferred := now.Sub(h.deferredSince)
	return deferred, deferred >= h.cfg.RestartGrace
}

func (h *HostManager) restartReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.browser == nil || h.closed {
		return ""
	}
	now := h.clock.Now()
	switch {
	case !h.browser.Connected():
		return RestartReasonDisconnected
	case h.rotatePending:
		return RestartReasonRotation
	case h.cfg.MaxAge > 0 && now.Sub(h.startedAt) > h.cfg.MaxAge:
		return RestartReasonAge
	case h.cfg.MaxIdle > 0 && now.Sub(h.lastActivityAt) > h.cfg.MaxIdle:
		return RestartReasonIdle
	}
	return ""
}

// RotateIdentity switches to the named profile, or the next one when name is empty. The new
// identity applies from the next boot.
func (h *HostManager) RotateIdentity(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := (h.profileIdx + 1) % len(h.profiles)
	if name != "" {
		next = -1
		for i, p := range h.profiles {
			if p.Name == name {
				next = i
				break
			}
		}
		if next < 0 {
			return fmt.Errorf("rotate identity: unknown profile %q", name)
		}
	}

	h.profileIdx = next
	h.rotatePending = h.browser != nil
	metrics.HostIdentityRotationTotal.Inc()
	h.logger.Info().Str(arenalog.FieldProfile, h.profiles[next].Name).Msg("identity rotated")
	return nil
}

// RecordFailure counts a failed interaction and rotates identity once the threshold is hit.
func (h *HostManager) RecordFailure() {
	h.mu.Lock()
	h.fails++
	rotate := h.fails >= h.cfg.FailureThreshold
	if rotate {
		h.fails = 0
	}
	h.mu.Unlock()

	if rotate {
		_ = h.RotateIdentity("")
	}
}

func (h *HostManager) RecordSuccess() {
	h.mu.Lock()
	h.fails = 0
	h.mu.Unlock()
}

// Touch marks host activity.
func (h *HostManager) Touch() {
	h.mu.Lock()
	h.lastActivityAt = h.clock.Now()
	h.mu.Unlock()
}

// NewSession opens a page with a freshly varied fingerprint.
func (h *HostManager) NewSession(ctx context.Context) (ports.Page, error) {
	browser, err := h.Host(ctx)
	if err != nil {
		return nil, err
	}

	page, err := browser.NewPage(ctx, h.pageConfig())
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	h.mu.Lock()
	h.pages[page.ID()] = page
	h.lastActivityAt = h.clock.Now()
	h.mu.Unlock()

	h.logger.Debug().Str(arenalog.FieldSessionID, page.ID()).Msg("session opened")
	return page, nil
}

// CloseSession closes page and forgets it.
func (h *HostManager) CloseSession(ctx context.Context, page ports.Page) error {
	h.mu.Lock()
	delete(h.pages, page.ID())
	h.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := page.Close(closeCtx); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		return fmt.Errorf("close session %s: %w", page.ID(), err)
	}
	return nil
}

// Reconfigure gives an existing page a new fingerprint under the current identity.
func (h *HostManager) Reconfigure(ctx context.Context, page ports.Page) error {
	if err := page.Configure(ctx, h.pageConfig()); err != nil {
		return fmt.Errorf("reconfigure session %s: %w", page.ID(), err)
	}
	h.Touch()
	return nil
}

func (h *HostManager) pageConfig() ports.PageConfig {
	h.mu.Lock()
	profile := h.profiles[h.profileIdx%len(h.profiles)]
	timezone := ""
	if len(h.cfg.Timezones) > 0 {
		timezone = h.cfg.Timezones[h.timezoneIdx%len(h.cfg.Timezones)]
		h.timezoneIdx++
	}
	h.mu.Unlock()

	return ports.PageConfig{
		Viewport:          jitterViewport(profile.Viewport, h.cfg.ViewportJitter),
		UserAgent:         profile.UserAgent,
		Locale:            profile.Locale,
		Timezone:          timezone,
		ClientHints:       profile.ClientHints,
		InitScripts:       []string{ChallengeCaptureScript},
		ActionTimeout:     h.cfg.ActionTimeout,
		NavigationTimeout: h.cfg.NavigationTimeout,
	}
}

func jitterViewport(v domain.Viewport, spread int) domain.Viewport {
	if spread <= 0 {
		return v
	}
	return domain.Viewport{
		Width:  v.Width + rand.IntN(2*spread+1) - spread,
		Height: v.Height + rand.IntN(2*spread+1) - spread,
	}
}

func (h *HostManager) Info() domain.HostInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	return domain.HostInfo{
		Connected:        h.browser != nil && h.browser.Connected(),
		StartedAt:        h.startedAt,
		LastActivityAt:   h.lastActivityAt,
		Profile:          h.profiles[h.profileIdx%len(h.profiles)].Name,
		LiveSessions:     len(h.pages),
		ConsecutiveFails: h.fails,
		Restarts:         h.restarts,
	}
}

// Close tears the host down for good.
func (h *HostManager) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	browser := h.browser
	pages := h.pages
	h.browser = nil
	h.pages = make(map[string]ports.Page)
	h.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	var g errgroup.Group
	for _, page := range pages {
		g.Go(func() error { return page.Close(closeCtx) })
	}
	pageErr := g.Wait()

	if browser != nil {
		if err := browser.Close(closeCtx); err != nil {
			return fmt.Errorf("close host: %w", err)
		}
	}
	if pageErr != nil && !errors.Is(pageErr, domain.ErrSessionClosed) {
		return fmt.Errorf("close pages: %w", pageErr)
	}
	return nil
}
