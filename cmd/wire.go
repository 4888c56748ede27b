package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/arena-relay/internal/adapters/browser"
	"github.com/bnema/arena-relay/internal/adapters/httpapi"
	"github.com/bnema/arena-relay/internal/adapters/proxy"
	statusadapter "github.com/bnema/arena-relay/internal/adapters/render/status"
	tomlrepo "github.com/bnema/arena-relay/internal/adapters/repo/toml"
	chainstore "github.com/bnema/arena-relay/internal/adapters/secrets/chain"
	"github.com/bnema/arena-relay/internal/adapters/solver"
	"github.com/bnema/arena-relay/internal/application"
	"github.com/bnema/arena-relay/internal/backoff"
	"github.com/bnema/arena-relay/internal/config"
	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/spf13/viper"
)

// app holds what every command needs. The browser runtime is only built by serve.
type app struct {
	cfg            config.Config
	profiles       *tomlrepo.ProfileRepository
	proxies        *tomlrepo.ProxyRepository
	secretStore    ports.SecretStore
	statusRenderer func(domain.PoolSnapshot, statusadapter.RenderOptions) (string, error)
	httpClient     *http.Client
	now            func() time.Time
}

func wireApp() (*app, error) {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	arenalog.Configure(arenalog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	profiles, err := tomlrepo.NewProfileRepository(cfg.Paths.Profiles)
	if err != nil {
		return nil, fmt.Errorf("wire profile repository: %w", err)
	}
	proxies, err := tomlrepo.NewProxyRepository(cfg.Paths.Proxies)
	if err != nil {
		return nil, fmt.Errorf("wire proxy repository: %w", err)
	}
	secretStore, err := chainstore.NewEnvFirstWithFileFallback(cfg.Paths.Secrets)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	return &app{
		cfg:            cfg,
		profiles:       profiles,
		proxies:        proxies,
		secretStore:    secretStore,
		statusRenderer: statusadapter.Render,
		httpClient:     &http.Client{},
		now:            time.Now,
	}, nil
}

func (a *app) serverURL(override string) string {
	if override != "" {
		return override
	}
	listen := a.cfg.Server.Listen
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

func (a *app) client(override string) *httpapi.Client {
	return httpapi.NewClient(a.serverURL(override), a.httpClient)
}

// runtime is the long-lived service graph behind serve.
type runtime struct {
	host         *application.HostManager
	pool         *application.SessionPool
	registry     *application.RetryRegistry
	orchestrator *application.Orchestrator
	server       *httpapi.Server
}

func (a *app) buildRuntime(ctx context.Context) (*runtime, error) {
	cfg := a.cfg

	engine, err := browser.NewEngine(browser.Config{
		Bin:        cfg.Host.BrowserBin,
		ControlURL: cfg.Host.ControlURL,
		Selectors:  browser.SelectorsFromConfig(cfg.Host.Selectors),
	})
	if err != nil {
		return nil, fmt.Errorf("wire browser engine: %w", err)
	}

	profiles, err := a.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identity profiles: %w", err)
	}

	hostCfg := application.DefaultHostConfig()
	hostCfg.Headless = cfg.Host.Headless
	hostCfg.UseProxy = cfg.Host.UseProxy
	hostCfg.MaxAge = cfg.Host.MaxAge
	hostCfg.MaxIdle = cfg.Host.MaxIdle
	hostCfg.RestartGrace = cfg.Host.RestartGrace
	hostCfg.SettleDelay = cfg.Host.SettleDelay
	hostCfg.FailureThreshold = cfg.Host.FailureThreshold
	hostCfg.ActionTimeout = cfg.Host.ActionTimeout
	hostCfg.NavigationTimeout = cfg.Host.NavigationTimeout
	hostCfg.ViewportJitter = cfg.Host.ViewportJitter
	if len(cfg.Host.Timezones) > 0 {
		hostCfg.Timezones = cfg.Host.Timezones
	}
	host := application.NewHostManager(hostCfg, engine, proxy.NewRotatingProvider(a.proxies), profiles, ports.SystemClock{})

	pool := application.NewSessionPool(application.PoolConfig{
		MaxPoolSize:     cfg.Pool.MaxSize,
		MaxTabs:         cfg.Pool.MaxTabs,
		QueueTimeout:    cfg.Pool.QueueTimeout,
		AbandonAfter:    cfg.Pool.AbandonAfter,
		JanitorInterval: cfg.Pool.JanitorInterval,
	}, host, ports.SystemClock{})

	rewriter := application.NewRewriter(application.RewriterConfig{
		APIPattern:    cfg.Target.APIPattern,
		CredentialKey: cfg.Target.CredentialKey,
		Mode:          cfg.Target.Mode,
		Modality:      cfg.Target.Modality,
	})
	registry := application.NewRetryRegistry()

	var challengeSolver ports.ChallengeSolver
	if cfg.Solver.URL != "" {
		client, err := solver.NewClient(solver.Config{
			URL:          cfg.Solver.URL,
			Rate:         cfg.Solver.Rate,
			Burst:        cfg.Solver.Burst,
			Timeout:      cfg.Solver.Timeout,
			PollInterval: cfg.Solver.PollInterval,
			Retry:        backoff.DefaultPolicy(),
		}, a.secretStore, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("wire challenge solver: %w", err)
		}
		challengeSolver = client
	}

	orchestrator := application.NewOrchestrator(application.OrchestratorConfig{
		TargetURL:         cfg.Target.URL,
		MaxAttempts:       cfg.Interaction.MaxAttempts,
		InterceptTimeout:  cfg.Interaction.InterceptTimeout,
		SettleMin:         cfg.Interaction.SettleMin,
		SettleMax:         cfg.Interaction.SettleMax,
		CompletionTimeout: cfg.Interaction.CompletionTimeout,
		LeaseInterval:     cfg.Interaction.LeaseInterval,
		ChallengeMarkers:  cfg.Interaction.ChallengeMarkers,
		ChallengeURLParts: cfg.Interaction.ChallengeURLParts,
	}, pool, host, rewriter, registry, challengeSolver)

	return &runtime{
		host:         host,
		pool:         pool,
		registry:     registry,
		orchestrator: orchestrator,
		server:       httpapi.NewServer(httpapi.Config{RatePerMinute: cfg.Server.RatePerMinute}, orchestrator, pool, registry),
	}, nil
}

// Close tears the pool down before the host so sessions are closed while the driver is still up.
func (r *runtime) Close(ctx context.Context) error {
	return errors.Join(r.pool.Close(ctx), r.host.Close(ctx))
}
