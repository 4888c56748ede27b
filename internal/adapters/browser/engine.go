package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

const defaultCallTimeout = 10 * time.Second

type Config struct {
	// Bin is the browser executable. Empty lets the launcher find or download one.
	Bin string
	// ControlURL attaches to an already running browser instead of launching one.
	ControlURL string
	Selectors  map[ports.ElementRole][]string
	// CallTimeout bounds calls made without a caller deadline, such as Page.URL.
	CallTimeout time.Duration
}

// SelectorsFromConfig converts role names from configuration into typed roles.
func SelectorsFromConfig(in map[string][]string) map[ports.ElementRole][]string {
	out := make(map[ports.ElementRole][]string, len(in))
	for role, selectors := range in {
		out[ports.ElementRole(role)] = append([]string(nil), selectors...)
	}
	return out
}

// Engine launches one Chrome DevTools session per host generation.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

var _ ports.Engine = (*Engine)(nil)

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	for role, selectors := range cfg.Selectors {
		for _, s := range selectors {
			if _, err := parseSelector(s); err != nil {
				return nil, fmt.Errorf("selector for %s: %w", role, err)
			}
		}
	}
	return &Engine{cfg: cfg, logger: arenalog.WithComponent("browser")}, nil
}

func (e *Engine) Launch(ctx context.Context, opts ports.LaunchOptions) (ports.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proxyServer := ""
	if opts.Proxy != nil {
		server, err := proxyServerAddr(opts.Proxy.URL)
		if err != nil {
			return nil, err
		}
		proxyServer = server
	}

	// The process and connection outlive the launch call; Close cancels both.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var (
		l          *launcher.Launcher
		controlURL string
		err        error
	)
	if e.cfg.ControlURL != "" {
		controlURL, err = launcher.ResolveURL(e.cfg.ControlURL)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("resolve control url: %w", err)
		}
	} else {
		l = e.launcher(connCtx, opts, proxyServer)
		controlURL, err = l.Launch()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	}

	rb := rod.New().ControlURL(controlURL).Context(connCtx)
	if err := rb.Connect(); err != nil {
		cancel()
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	if e.cfg.ControlURL != "" {
		// A shared remote browser gets its own context so cookies and proxy stay per generation.
		res, err := proto.TargetCreateBrowserContext{ProxyServer: proxyServer}.Call(rb)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create browser context: %w", err)
		}
		rb.BrowserContextID = res.BrowserContextID
	}

	if opts.Proxy != nil && opts.Proxy.Username != "" {
		go func() {
			if err := rb.HandleAuth(opts.Proxy.Username, opts.Proxy.Password)(); err != nil && connCtx.Err() == nil {
				e.logger.Warn().Err(err).Msg("proxy authentication")
			}
		}()
	}

	b := newBrowser(connCtx, cancel, rb, l, e.cfg, e.logger)
	if err := b.watch(); err != nil {
		_ = b.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	e.logger.Debug().
		Str(arenalog.FieldProfile, opts.Profile.Name).
		Bool("headless", opts.Headless).
		Bool("proxied", proxyServer != "").
		Msg("browser launched")
	return b, nil
}

func (e *Engine) launcher(ctx context.Context, opts ports.LaunchOptions, proxyServer string) *launcher.Launcher {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if e.cfg.Bin != "" {
		l = l.Bin(e.cfg.Bin)
	}
	if proxyServer != "" {
		l = l.Proxy(proxyServer)
	}
	if opts.Profile.UserAgent != "" {
		l = l.Set(flags.Flag("user-agent"), opts.Profile.UserAgent)
	}
	if opts.Profile.Locale != "" {
		l = l.Set(flags.Flag("lang"), opts.Profile.Locale)
	}
	return l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
}

// proxyServerAddr strips credentials; Chrome takes them through the auth challenge instead.
func proxyServerAddr(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("parse proxy url: %w", errors.Join(errInvalidProxy, err))
	}
	return u.Scheme + "://" + u.Host, nil
}

var errInvalidProxy = errors.New("invalid proxy url")
