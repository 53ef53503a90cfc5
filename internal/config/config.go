// Package config holds edgeguard's settings. Values come from viper, which
// merges flags, EDGEGUARD_* environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kappakonnect/edgeguard/internal/origin"
	"github.com/kappakonnect/edgeguard/internal/ratelimit"
)

// EnvPrefix is prepended to every environment variable, with dots in keys
// replaced by underscores (rate_limit.window -> EDGEGUARD_RATE_LIMIT_WINDOW).
const EnvPrefix = "EDGEGUARD"

// Rate store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	ListenAddr    string        `mapstructure:"listen_addr"`
	AdminAddr     string        `mapstructure:"admin_addr"`
	AdminAllow    []string      `mapstructure:"admin_allow"`
	OriginURL     string        `mapstructure:"origin_url"`
	Forwarding    string        `mapstructure:"forwarding"`
	SPADocument   string        `mapstructure:"spa_document"`
	OriginTimeout time.Duration `mapstructure:"origin_timeout"`
	BypassPattern string        `mapstructure:"bypass_pattern"`
	RulesFile     string        `mapstructure:"rules_file"`
	DatabaseURL   string        `mapstructure:"database_url"`
	LogLevel      string        `mapstructure:"log_level"`
	RecentEvents  int           `mapstructure:"recent_events"`

	RateLimit RateLimit `mapstructure:"rate_limit"`
	Audit     Audit     `mapstructure:"audit"`
	TLS       TLS       `mapstructure:"tls"`
}

type RateLimit struct {
	Enabled     bool          `mapstructure:"enabled"`
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
	FailClosed  bool          `mapstructure:"fail_closed"`
	Store       string        `mapstructure:"store"`
	MemorySize  int           `mapstructure:"memory_size"`
}

type Audit struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TLS struct {
	Domains    []string `mapstructure:"domains"`
	Email      string   `mapstructure:"email"`
	Staging    bool     `mapstructure:"staging"`
	ListenAddr string   `mapstructure:"listen_addr"`
}

// SetDefaults registers every key so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("admin_addr", "127.0.0.1:9090")
	v.SetDefault("admin_allow", []string{})
	v.SetDefault("origin_url", "")
	v.SetDefault("forwarding", origin.StrategyProxy)
	v.SetDefault("spa_document", origin.DefaultDocument)
	v.SetDefault("origin_timeout", origin.DefaultTimeout)
	v.SetDefault("bypass_pattern", "")
	v.SetDefault("rules_file", "")
	v.SetDefault("database_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("recent_events", 500)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", ratelimit.DefaultWindow)
	v.SetDefault("rate_limit.max_requests", ratelimit.DefaultMaxRequests)
	v.SetDefault("rate_limit.fail_closed", false)
	v.SetDefault("rate_limit.store", StoreMemory)
	v.SetDefault("rate_limit.memory_size", ratelimit.DefaultMemorySize)

	v.SetDefault("audit.file", "")
	v.SetDefault("audit.max_size_mb", 100)
	v.SetDefault("audit.max_backups", 5)
	v.SetDefault("audit.max_age_days", 30)

	v.SetDefault("tls.domains", []string{})
	v.SetDefault("tls.email", "")
	v.SetDefault("tls.staging", false)
	v.SetDefault("tls.listen_addr", ":443")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.AdminAllow = splitList(cfg.AdminAllow)
	cfg.TLS.Domains = splitList(cfg.TLS.Domains)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.OriginURL == "" {
		errs = append(errs, errors.New("origin_url is required"))
	} else if u, err := url.Parse(c.OriginURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("origin_url %q must be an absolute http(s) URL", c.OriginURL))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("origin_url scheme %q is not http or https", u.Scheme))
	}

	switch c.Forwarding {
	case origin.StrategyProxy, origin.StrategySPA:
	default:
		errs = append(errs, fmt.Errorf("forwarding must be %q or %q, got %q", origin.StrategyProxy, origin.StrategySPA, c.Forwarding))
	}
	if c.Forwarding == origin.StrategySPA && !strings.HasPrefix(c.SPADocument, "/") {
		errs = append(errs, fmt.Errorf("spa_document %q must start with /", c.SPADocument))
	}
	if c.OriginTimeout <= 0 {
		errs = append(errs, errors.New("origin_timeout must be positive"))
	}
	if c.BypassPattern != "" {
		if _, err := regexp.Compile(c.BypassPattern); err != nil {
			errs = append(errs, fmt.Errorf("bypass_pattern: %w", err))
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window < time.Second {
			errs = append(errs, errors.New("rate_limit.window must be at least 1s"))
		}
		if c.RateLimit.MaxRequests <= 0 {
			errs = append(errs, errors.New("rate_limit.max_requests must be positive"))
		}
		switch c.RateLimit.Store {
		case StoreMemory:
			if c.RateLimit.MemorySize <= 0 {
				errs = append(errs, errors.New("rate_limit.memory_size must be positive"))
			}
		case StorePostgres:
			if c.DatabaseURL == "" {
				errs = append(errs, errors.New("rate_limit.store=postgres requires database_url"))
			}
		default:
			errs = append(errs, fmt.Errorf("rate_limit.store must be %q or %q, got %q", StoreMemory, StorePostgres, c.RateLimit.Store))
		}
	}

	if len(c.TLS.Domains) > 0 && c.TLS.ListenAddr == "" {
		errs = append(errs, errors.New("tls.listen_addr is required when tls.domains is set"))
	}

	return errors.Join(errs...)
}

// Bypass compiles BypassPattern, returning nil when it is empty.
func (c *Config) Bypass() *regexp.Regexp {
	if c.BypassPattern == "" {
		return nil
	}
	return regexp.MustCompile(c.BypassPattern)
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
