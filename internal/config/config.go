// Package config loads the tracker server configuration from defaults, an
// optional YAML file and TRACKER_* environment variables, in that order of
// precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so server.addr is
// read from TRACKER_SERVER_ADDR
const EnvPrefix = "TRACKER"

// Config is the full server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Site      SiteConfig      `mapstructure:"site"`
	Prerender PrerenderConfig `mapstructure:"prerender"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadMiB    int64         `mapstructure:"max_upload_mib"`
	// Origin is an upstream serving the SPA; empty serves the embedded build
	Origin string `mapstructure:"origin"`
}

type DatabaseConfig struct {
	Type            string        `mapstructure:"type"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type AuthConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	APIKey        string        `mapstructure:"api_key"`
	AdminEmail    string        `mapstructure:"admin_email"`
	AdminPassword string        `mapstructure:"admin_password"`
}

type SiteConfig struct {
	Name        string `mapstructure:"name"`
	BaseURL     string `mapstructure:"base_url"`
	Description string `mapstructure:"description"`
}

type PrerenderConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Mode is "store" (templates over the database) or "browser"
	// (headless Chrome against the SPA)
	Mode          string        `mapstructure:"mode"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
	ChromeURL     string        `mapstructure:"chrome_url"`
	ChromeBin     string        `mapstructure:"chrome_bin"`
	BrowserOrigin string        `mapstructure:"browser_origin"`
	StableAfter   time.Duration `mapstructure:"stable_after"`
	Retries       int           `mapstructure:"retries"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	MaxEntries      int           `mapstructure:"max_entries"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type RateLimitConfig struct {
	PublicRPS   float64 `mapstructure:"public_rps"`
	PublicBurst int     `mapstructure:"public_burst"`
	LoginRPS    float64 `mapstructure:"login_rps"`
	LoginBurst  int     `mapstructure:"login_burst"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Environment string  `mapstructure:"environment"`
	ServiceName string  `mapstructure:"service_name"`
}

type TLSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	GenerateCert bool     `mapstructure:"generate_cert"`
	Hosts        []string `mapstructure:"hosts"`
}

type CleanupConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	VacuumInterval time.Duration `mapstructure:"vacuum_interval"`
	LimiterMaxIdle time.Duration `mapstructure:"limiter_max_idle"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	Dir   string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.max_upload_mib", 10)
	v.SetDefault("server.origin", "")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "tracker.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 1*time.Minute)

	v.SetDefault("auth.session_ttl", 12*time.Hour)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.admin_email", "")
	v.SetDefault("auth.admin_password", "")

	v.SetDefault("site.name", "Mamdani Tracker")
	v.SetDefault("site.base_url", "https://mamdanitracker.org")
	v.SetDefault("site.description", "Tracking the promises and performance of New York City's mayor.")

	v.SetDefault("prerender.enabled", true)
	v.SetDefault("prerender.mode", "store")
	v.SetDefault("prerender.render_timeout", 20*time.Second)
	v.SetDefault("prerender.chrome_url", "")
	v.SetDefault("prerender.chrome_bin", "")
	v.SetDefault("prerender.browser_origin", "")
	v.SetDefault("prerender.stable_after", 500*time.Millisecond)
	v.SetDefault("prerender.retries", 2)

	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.janitor_interval", 5*time.Minute)

	v.SetDefault("ratelimit.public_rps", 20.0)
	v.SetDefault("ratelimit.public_burst", 40)
	v.SetDefault("ratelimit.login_rps", 0.2)
	v.SetDefault("ratelimit.login_burst", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.environment", "production")
	v.SetDefault("tracing.service_name", "tracker")

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "certs/tracker.crt")
	v.SetDefault("tls.key_file", "certs/tracker.key")
	v.SetDefault("tls.generate_cert", false)
	v.SetDefault("tls.hosts", []string{"localhost"})

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval", 15*time.Minute)
	v.SetDefault("cleanup.vacuum_interval", 7*24*time.Hour)
	v.SetDefault("cleanup.limiter_max_idle", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
	v.SetDefault("log.dir", "")
}

// Load reads configuration. path may be empty, in which case ./tracker.yaml
// and /etc/tracker/tracker.yaml are tried and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tracker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tracker")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Site.BaseURL = strings.TrimRight(cfg.Site.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("database.type: unsupported value %q", c.Database.Type)
	}
	if (c.Database.Type == "postgres" || c.Database.Type == "postgresql") && c.Database.DSN == "" {
		return errors.New("database.dsn is required for postgres")
	}
	switch c.Prerender.Mode {
	case "store", "browser":
	default:
		return fmt.Errorf("prerender.mode: unsupported value %q", c.Prerender.Mode)
	}
	if c.Site.BaseURL == "" {
		return errors.New("site.base_url is required")
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		return errors.New("auth.admin_email and auth.admin_password must be set together")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file are required when tls is enabled")
	}
	return nil
}
