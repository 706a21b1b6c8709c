package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/activity"
	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Admission AdmissionConfig `json:"admission" yaml:"admission"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr     string   `json:"listen_addr" yaml:"listen_addr"`
	UpstreamURL    string   `json:"upstream_url" yaml:"upstream_url"`
	Environment    string   `json:"environment" yaml:"environment"`
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`
}

type AdmissionConfig struct {
	ActivityTimeout time.Duration       `json:"activity_timeout" yaml:"activity_timeout"`
	SweepInterval   time.Duration       `json:"sweep_interval" yaml:"sweep_interval"`
	Window          time.Duration       `json:"window" yaml:"window"`
	Tiers           admission.TierTable `json:"tiers" yaml:"tiers"`

	// Off by default: bucket entries then live as long as the process.
	BucketEviction  bool          `json:"bucket_eviction" yaml:"bucket_eviction"`
	JanitorInterval time.Duration `json:"janitor_interval" yaml:"janitor_interval"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	JWTCookie string `json:"jwt_cookie" yaml:"jwt_cookie"`
}

type RedisConfig struct {
	Host        string        `json:"host" yaml:"host"`
	Port        string        `json:"port" yaml:"port"`
	Password    string        `json:"password" yaml:"password"`
	DB          int           `json:"db" yaml:"db"`
	StatsPrefix string        `json:"stats_prefix" yaml:"stats_prefix"`
	StatsTTL    time.Duration `json:"stats_ttl" yaml:"stats_ttl"`
	TrackKeys   bool          `json:"track_keys" yaml:"track_keys"`
}

type DatabaseConfig struct {
	URL              string `json:"url" yaml:"url"`
	RequestLogBuffer int    `json:"request_log_buffer" yaml:"request_log_buffer"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) GetRedisAddr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			Environment: "development",
		},
		Admission: AdmissionConfig{
			ActivityTimeout: activity.DefaultTimeout,
			Window:          admission.DefaultWindow,
			Tiers:           admission.DefaultTiers(),
			JanitorInterval: time.Minute,
		},
		Auth: AuthConfig{
			JWTCookie: "jwt_java_spring",
		},
		Redis: RedisConfig{
			Port:        "6379",
			StatsPrefix: "admission:stats",
			StatsTTL:    24 * time.Hour,
		},
		Database: DatabaseConfig{
			RequestLogBuffer: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Reads the config file at path (JSON or YAML) over the defaults, then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup lookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("listen address is required")
	}

	if c.Server.UpstreamURL == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	u, err := url.Parse(c.Server.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid UPSTREAM_URL %q", c.Server.UpstreamURL)
	}

	if c.Admission.ActivityTimeout <= 0 {
		return errors.New("ACTIVITY_TIMEOUT must be > 0")
	}
	if c.Admission.SweepInterval < 0 {
		return errors.New("SWEEP_INTERVAL must be >= 0")
	}
	if c.Admission.Window <= 0 {
		return errors.New("RATE_WINDOW must be > 0")
	}
	if err := c.Admission.Tiers.Validate(); err != nil {
		return fmt.Errorf("invalid RATE_TIERS: %w", err)
	}
	if c.Admission.BucketEviction && c.Admission.JanitorInterval <= 0 {
		return errors.New("JANITOR_INTERVAL must be > 0 when BUCKET_EVICTION=true")
	}

	if c.Database.RequestLogBuffer <= 0 {
		return errors.New("REQUEST_LOG_BUFFER must be > 0")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}
