// Package config provides environment aware configuration for go-bolts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var AppVersion = "-unset-" // will be set at build time

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	// EnvVar selects the environment when no explicit one is given.
	EnvVar = "BOLTS_ENV"

	DefaultListenAddr      = ":3000"
	DefaultSessionCookie   = "bolts_session"
	DefaultSessionTTL      = 3 * time.Hour // sliding timeout
	DefaultCleanupInterval = 15 * time.Minute
	DefaultMaxBodyBytes    = 10 << 20
	DefaultBusyTimeout     = 5 * time.Second
)

// Config holds the whole configuration of a go-bolts application
type Config struct {
	Env string `yaml:"-"`

	App      AppConfig      `yaml:"app"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	CSRF     CSRFConfig     `yaml:"csrf"`
	Log      LogConfig      `yaml:"log"`
}

// AppConfig names the application and where its declarative routes live
type AppConfig struct {
	Name       string `yaml:"name"`
	RoutesFile string `yaml:"routes_file"`
}

// WebConfig holds web server configuration
type WebConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	SSL             bool     `yaml:"ssl"`
	CertFile        string   `yaml:"cert_file"`
	KeyFile         string   `yaml:"key_file"`
	StaticDir       string   `yaml:"static_dir"`
	ViewsDir        string   `yaml:"views_dir"`
	ReloadTemplates bool     `yaml:"reload_templates"`
	BehindProxy     bool     `yaml:"behind_proxy"` // honour X-Forwarded-* headers
	TrustedProxies  []string `yaml:"trusted_proxies"`
	BlockedAgents   []string `yaml:"blocked_agents"` // lower-case user agent substrings
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path          string        `yaml:"path"`           // sqlite file or ":memory:"
	MigrationsDir string        `yaml:"migrations_dir"` // application migrations, optional
	BusyTimeout   time.Duration `yaml:"busy_timeout"`
}

// SessionConfig holds cookie session configuration
type SessionConfig struct {
	CookieName      string        `yaml:"cookie_name"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// CSRFConfig controls request forgery protection
type CSRFConfig struct {
	Enabled        bool     `yaml:"enabled"`
	ExemptPrefixes []string `yaml:"exempt_prefixes"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// NewDefaultConfig returns the defaults for env.
func NewDefaultConfig(env string) *Config {
	cfg := &Config{
		Env: env,
		App: AppConfig{
			Name:       "bolts",
			RoutesFile: "config/routes.yaml",
		},
		Web: WebConfig{
			ListenAddr:     DefaultListenAddr,
			StaticDir:      "public",
			ViewsDir:       "app/views",
			TrustedProxies: []string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
			MaxBodyBytes:   DefaultMaxBodyBytes,
		},
		Database: DatabaseConfig{
			Path:          filepath.Join("db", env+".sqlite3"),
			MigrationsDir: "db/migrations",
			BusyTimeout:   DefaultBusyTimeout,
		},
		Session: SessionConfig{
			CookieName:      DefaultSessionCookie,
			TTL:             DefaultSessionTTL,
			CleanupInterval: DefaultCleanupInterval,
		},
		CSRF: CSRFConfig{Enabled: true},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
	switch env {
	case EnvDevelopment:
		cfg.Web.ReloadTemplates = true
		cfg.Log = LogConfig{Level: "debug", Format: "console"}
	case EnvTest:
		cfg.Database.Path = ":memory:"
		cfg.Log = LogConfig{Level: "warn", Format: "console"}
	}
	return cfg
}

// ResolveEnv picks the environment: explicit value, then BOLTS_ENV, then development.
func ResolveEnv(explicit string) (string, error) {
	env := explicit
	if env == "" {
		env = os.Getenv(EnvVar)
	}
	if env == "" {
		env = EnvDevelopment
	}
	switch env {
	case EnvDevelopment, EnvTest, EnvProduction:
		return env, nil
	}
	return "", fmt.Errorf("unknown environment %q (want %s, %s or %s)", env, EnvDevelopment, EnvTest, EnvProduction)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration for env from dir: defaults, then
// dir/app.yaml, then dir/<env>.yaml, then BOLTS_* environment variables.
func Load(dir, env string) (*Config, error) {
	env, err := ResolveEnv(env)
	if err != nil {
		return nil, err
	}
	cfg := NewDefaultConfig(env)
	for _, name := range []string{"app.yaml", env + ".yaml"} {
		if err := mergeFile(cfg, filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	set := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set("BOLTS_LISTEN_ADDR", &cfg.Web.ListenAddr)
	set("BOLTS_DATABASE_PATH", &cfg.Database.Path)
	set("BOLTS_LOG_LEVEL", &cfg.Log.Level)
	set("BOLTS_LOG_FORMAT", &cfg.Log.Format)
	set("BOLTS_SSL_CERT", &cfg.Web.CertFile)
	set("BOLTS_SSL_KEY", &cfg.Web.KeyFile)
	if v := os.Getenv("BOLTS_SSL"); v != "" {
		cfg.Web.SSL = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Web.ListenAddr == "" {
		return errors.New("web.listen_addr must be set")
	}
	if c.Web.SSL && (c.Web.CertFile == "" || c.Web.KeyFile == "") {
		return errors.New("SSL enabled but cert_file or key_file not specified in config")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Database.Path == "" {
		return errors.New("database.path must be set")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// IsProduction reports whether the config runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}
