package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"
)

const (
	defaultActionTimeout     = 15 * time.Second
	defaultNavigationTimeout = 45 * time.Second
)

type Page struct {
	page   *rod.Page
	ctx    context.Context
	cfg    Config
	logger zerolog.Logger

	mu                sync.Mutex
	actionTimeout     time.Duration
	navigationTimeout time.Duration
	removeScripts     []func() error

	closeOnce sync.Once
	closed    chan struct{}
}

var _ ports.Page = (*Page)(nil)

func newPage(ctx context.Context, rp *rod.Page, cfg Config, logger zerolog.Logger) *Page {
	return &Page{
		page:              rp,
		ctx:               ctx,
		cfg:               cfg,
		logger:            logger.With().Str("target_id", string(rp.TargetID)).Logger(),
		actionTimeout:     defaultActionTimeout,
		navigationTimeout: defaultNavigationTimeout,
		closed:            make(chan struct{}),
	}
}

func (p *Page) ID() string { return string(p.page.TargetID) }

// Configure applies an identity to the page. Calling it again replaces the previous identity and
// init scripts; scripts only take effect on the next navigation.
func (p *Page) Configure(ctx context.Context, cfg ports.PageConfig) error {
	rp := p.page.Context(ctx)

	if err := (proto.NetworkEnable{}).Call(rp); err != nil {
		return fmt.Errorf("configure page: enable network: %w", err)
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.Viewport.Width,
			Height:            cfg.Viewport.Height,
			DeviceScaleFactor: 1,
		}).Call(rp); err != nil {
			return fmt.Errorf("configure page: viewport: %w", err)
		}
	}
	if cfg.UserAgent != "" {
		if err := (proto.EmulationSetUserAgentOverride{UserAgent: cfg.UserAgent, AcceptLanguage: cfg.Locale}).Call(rp); err != nil {
			return fmt.Errorf("configure page: user agent: %w", err)
		}
	}

	// Overrides refuse to stack, so each one is cleared before it is set.
	_ = (proto.EmulationSetLocaleOverride{}).Call(rp)
	if cfg.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: icuLocale(cfg.Locale)}).Call(rp); err != nil {
			return fmt.Errorf("configure page: locale: %w", err)
		}
	}
	_ = (proto.EmulationSetTimezoneOverride{}).Call(rp)
	if cfg.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: cfg.Timezone}).Call(rp); err != nil {
			return fmt.Errorf("configure page: timezone: %w", err)
		}
	}

	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: extraHeaders(cfg.ClientHints)}).Call(rp); err != nil {
		return fmt.Errorf("configure page: client hints: %w", err)
	}

	p.mu.Lock()
	previous := p.removeScripts
	p.removeScripts = nil
	if cfg.ActionTimeout > 0 {
		p.actionTimeout = cfg.ActionTimeout
	}
	if cfg.NavigationTimeout > 0 {
		p.navigationTimeout = cfg.NavigationTimeout
	}
	p.mu.Unlock()

	for _, remove := range previous {
		if err := remove(); err != nil {
			p.logger.Debug().Err(err).Msg("remove init script")
		}
	}

	removers := make([]func() error, 0, len(cfg.InitScripts))
	for _, script := range cfg.InitScripts {
		remove, err := p.page.EvalOnNewDocument(script)
		if err != nil {
			return fmt.Errorf("configure page: init script: %w", err)
		}
		removers = append(removers, remove)
	}

	p.mu.Lock()
	p.removeScripts = removers
	p.mu.Unlock()
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	tctx, cancel := context.WithTimeout(ctx, p.timeouts().navigation)
	defer cancel()

	rp := p.page.Context(tctx)
	err := rp.Navigate(url)
	if err == nil {
		err = rp.WaitLoad()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigate to %s: %w: %w", url, domain.ErrNavigation, err)
	}
	return nil
}

// URL returns the current location, or "" when the browser cannot answer.
func (p *Page) URL() string {
	rp, cancel := p.bounded(p.cfg.CallTimeout)
	defer cancel()

	info, err := rp.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *Page) Content(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return html, nil
}

// Locate waits up to the action timeout for roles the page must eventually render. Other roles
// are checked once, since their absence is the common case.
func (p *Page) Locate(ctx context.Context, role ports.ElementRole) (ports.Element, error) {
	selectors := parseSelectors(p.cfg.Selectors[role])
	if len(selectors) == 0 {
		return nil, fmt.Errorf("locate %s: no selectors configured: %w", role, domain.ErrElementNotFound)
	}

	timeout := p.timeouts().action
	if !waitsFor(role) {
		for _, s := range selectors {
			found, el, err := p.has(ctx, s)
			if err != nil {
				return nil, locateErr(ctx, role, err)
			}
			if found {
				return &Element{el: el, timeout: timeout}, nil
			}
		}
		return nil, fmt.Errorf("locate %s: %w", role, domain.ErrElementNotFound)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	race := p.page.Context(tctx).Race()
	for _, s := range selectors {
		if s.text != "" {
			race = race.ElementR(s.css, s.text)
		} else {
			race = race.Element(s.css)
		}
	}
	el, err := race.Do()
	if err != nil {
		return nil, locateErr(ctx, role, err)
	}
	return &Element{el: el, timeout: timeout}, nil
}

func (p *Page) has(ctx context.Context, s selector) (bool, *rod.Element, error) {
	rp := p.page.Context(ctx)
	if s.text != "" {
		return rp.HasR(s.css, s.text)
	}
	return rp.Has(s.css)
}

// StoredCredentials returns the cookies visible to the current page by name.
func (p *Page) StoredCredentials(ctx context.Context) (map[string]string, error) {
	res, err := proto.NetworkGetCookies{}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("read page cookies: %w", err)
	}
	out := make(map[string]string, len(res.Cookies))
	for _, c := range res.Cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	tctx, cancel := context.WithTimeout(ctx, p.timeouts().action)
	defer cancel()

	res, err := p.page.Context(tctx).Evaluate(rod.Eval(script).ByPromise())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("evaluate script: %w", err)
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return fmt.Errorf("encode script result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode script result: %w", err)
	}
	return nil
}

func (p *Page) Closed() <-chan struct{} { return p.closed }

func (p *Page) Close(ctx context.Context) error {
	select {
	case <-p.closed:
		return nil
	default:
	}

	err := p.page.Context(ctx).Close()
	p.markClosed()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close page %s: %w", p.ID(), err)
	}
	return nil
}

func (p *Page) markClosed() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// bounded returns the page bound to the browser lifetime and d.
func (p *Page) bounded(d time.Duration) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(p.ctx, d)
	return p.page.Context(ctx), cancel
}

type pageTimeouts struct {
	action     time.Duration
	navigation time.Duration
}

func (p *Page) timeouts() pageTimeouts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pageTimeouts{action: p.actionTimeout, navigation: p.navigationTimeout}
}

type Element struct {
	el      *rod.Element
	timeout time.Duration
}

var _ ports.Element = (*Element)(nil)

func (e *Element) Fill(ctx context.Context, text string) error {
	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	el := e.el.Context(tctx)
	if err := el.SelectAllText(); err != nil {
		return actionErr(ctx, "fill element", err)
	}
	if err := el.Input(text); err != nil {
		return actionErr(ctx, "fill element", err)
	}
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.el.Context(tctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return actionErr(ctx, "click element", err)
	}
	return nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	visible, err := e.el.Context(ctx).Visible()
	if err != nil {
		return false, fmt.Errorf("check element visibility: %w", err)
	}
	return visible, nil
}

func waitsFor(role ports.ElementRole) bool {
	return role == ports.RolePromptInput || role == ports.RoleSubmit
}

// actionErr keeps caller cancellation as is and reports the action deadline as a timeout.
func actionErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, domain.ErrActionTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func locateErr(ctx context.Context, role ports.ElementRole, err error) error {
	return actionErr(ctx, "locate "+string(role), err)
}

func extraHeaders(in map[string]string) proto.NetworkHeaders {
	out := make(proto.NetworkHeaders, len(in))
	for k, v := range in {
		out[k] = gson.New(v)
	}
	return out
}

// icuLocale turns a BCP 47 tag such as en-US into the en_US form the emulation domain expects.
func icuLocale(tag string) string {
	return strings.ReplaceAll(tag, "-", "_")
}
