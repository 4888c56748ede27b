// Package config loads runtime settings from config.toml, ARENA_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = "arena-relay"
	envPrefix  = "ARENA"
)

type Config struct {
	Target      TargetConfig      `mapstructure:"target"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Host        HostConfig        `mapstructure:"host"`
	Interaction InteractionConfig `mapstructure:"interaction"`
	Solver      SolverConfig      `mapstructure:"solver"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Paths       PathsConfig       `mapstructure:"paths"`
}

type TargetConfig struct {
	URL           string `mapstructure:"url"`
	APIPattern    string `mapstructure:"api_pattern"`
	CredentialKey string `mapstructure:"credential_key"`
	Mode          string `mapstructure:"mode"`
	Modality      string `mapstructure:"modality"`
}

type PoolConfig struct {
	MaxSize         int           `mapstructure:"max_size"`
	MaxTabs         int           `mapstructure:"max_tabs"`
	QueueTimeout    time.Duration `mapstructure:"queue_timeout"`
	AbandonAfter    time.Duration `mapstructure:"abandon_after"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type HostConfig struct {
	BrowserBin        string              `mapstructure:"browser_bin"`
	ControlURL        string              `mapstructure:"control_url"`
	Headless          bool                `mapstructure:"headless"`
	UseProxy          bool                `mapstructure:"use_proxy"`
	MaxAge            time.Duration       `mapstructure:"max_age"`
	MaxIdle           time.Duration       `mapstructure:"max_idle"`
	RestartGrace      time.Duration       `mapstructure:"restart_grace"`
	SettleDelay       time.Duration       `mapstructure:"settle_delay"`
	FailureThreshold  int                 `mapstructure:"failure_threshold"`
	ActionTimeout     time.Duration       `mapstructure:"action_timeout"`
	NavigationTimeout time.Duration       `mapstructure:"navigation_timeout"`
	ViewportJitter    int                 `mapstructure:"viewport_jitter"`
	Timezones         []string            `mapstructure:"timezones"`
	Selectors         map[string][]string `mapstructure:"selectors"`
}

type InteractionConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InterceptTimeout  time.Duration `mapstructure:"intercept_timeout"`
	SettleMin         time.Duration `mapstructure:"settle_min"`
	SettleMax         time.Duration `mapstructure:"settle_max"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	LeaseInterval     time.Duration `mapstructure:"lease_interval"`
	ChallengeMarkers  []string      `mapstructure:"challenge_markers"`
	ChallengeURLParts []string      `mapstructure:"challenge_url_parts"`
}

type SolverConfig struct {
	URL          string        `mapstructure:"url"`
	Rate         float64       `mapstructure:"rate"`
	Burst        int           `mapstructure:"burst"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type ServerConfig struct {
	Listen        string `mapstructure:"listen"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type PathsConfig struct {
	Profiles string `mapstructure:"profiles"`
	Proxies  string `mapstructure:"proxies"`
	Secrets  string `mapstructure:"secrets"`
}

// Dir returns the directory holding config.toml and the TOML catalogs.
func Dir() (string, error) {
	if dir := os.Getenv("ARENA_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, configDir), nil
}

func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}

	setDefaults(v, dir)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("target.url", "https://lmarena.ai/")
	v.SetDefault("target.api_pattern", "/nextjs-api/stream/create-evaluation")
	v.SetDefault("target.credential_key", "arena-auth-prod-v1")
	v.SetDefault("target.mode", "side-by-side")
	v.SetDefault("target.modality", "chat")

	v.SetDefault("pool.max_size", 3)
	v.SetDefault("pool.max_tabs", 5)
	v.SetDefault("pool.queue_timeout", 60*time.Second)
	v.SetDefault("pool.abandon_after", 30*time.Second)
	v.SetDefault("pool.janitor_interval", 10*time.Second)

	v.SetDefault("host.browser_bin", "")
	v.SetDefault("host.control_url", "")
	v.SetDefault("host.headless", false)
	v.SetDefault("host.use_proxy", true)
	v.SetDefault("host.max_age", 30*time.Minute)
	v.SetDefault("host.max_idle", 5*time.Minute)
	v.SetDefault("host.restart_grace", 10*time.Minute)
	v.SetDefault("host.settle_delay", 2*time.Second)
	v.SetDefault("host.failure_threshold", 3)
	v.SetDefault("host.action_timeout", 30*time.Second)
	v.SetDefault("host.navigation_timeout", 60*time.Second)
	v.SetDefault("host.viewport_jitter", 40)
	v.SetDefault("host.timezones", []string{"America/New_York", "Europe/London", "Europe/Berlin", "America/Los_Angeles"})
	v.SetDefault("host.selectors", map[string][]string{
		"prompt_input":        {"textarea[name='message']", "textarea"},
		"submit":              {"button[type='submit']"},
		"challenge_indicator": {"iframe[src*='challenges.cloudflare.com']", "#challenge-form", ".cf-turnstile"},
		"dismiss_dialog":      {"button >> text=^(Accept|Got it)$", "[role='dialog'] button[aria-label='Close']"},
	})

	v.SetDefault("interaction.max_attempts", 2)
	v.SetDefault("interaction.intercept_timeout", 15*time.Second)
	v.SetDefault("interaction.settle_min", 5*time.Second)
	v.SetDefault("interaction.settle_max", 7*time.Second)
	v.SetDefault("interaction.completion_timeout", 180*time.Second)
	v.SetDefault("interaction.lease_interval", 5*time.Second)
	v.SetDefault("interaction.challenge_markers", []string{"Verify you are human", "cf-turnstile", "challenge-platform", "Just a moment"})
	v.SetDefault("interaction.challenge_url_parts", []string{"/cdn-cgi/challenge-platform", "__cf_chl"})

	v.SetDefault("solver.url", "")
	v.SetDefault("solver.rate", 0.2)
	v.SetDefault("solver.burst", 1)
	v.SetDefault("solver.timeout", 120*time.Second)
	v.SetDefault("solver.poll_interval", 3*time.Second)

	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.rate_per_minute", 30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("paths.profiles", filepath.Join(dir, "profiles.toml"))
	v.SetDefault("paths.proxies", filepath.Join(dir, "proxies.toml"))
	v.SetDefault("paths.secrets", filepath.Join(dir, "secrets"))
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Target.URL) == "" {
		return errors.New("target.url is required")
	}
	if strings.TrimSpace(c.Target.APIPattern) == "" {
		return errors.New("target.api_pattern is required")
	}
	if c.Pool.MaxTabs <= 0 {
		return errors.New("pool.max_tabs must be positive")
	}
	if c.Pool.MaxSize <= 0 || c.Pool.MaxSize > c.Pool.MaxTabs {
		return fmt.Errorf("pool.max_size must be between 1 and pool.max_tabs (%d)", c.Pool.MaxTabs)
	}
	if c.Interaction.MaxAttempts <= 0 {
		return errors.New("interaction.max_attempts must be positive")
	}
	if c.Interaction.SettleMax < c.Interaction.SettleMin {
		return errors.New("interaction.settle_max must not be below interaction.settle_min")
	}
	if c.Host.FailureThreshold <= 0 {
		return errors.New("host.failure_threshold must be positive")
	}
	return nil
}
