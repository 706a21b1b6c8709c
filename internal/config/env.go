package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
)

type lookupFunc func(key string) (string, bool)

// Collects parse errors so a bad value is reported instead of silently
// falling back to the default.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	env := &envReader{lookup: lookup}

	env.str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	env.str("UPSTREAM_URL", &cfg.Server.UpstreamURL)
	env.str("ENVIRONMENT", &cfg.Server.Environment)
	env.list("TRUSTED_PROXIES", &cfg.Server.TrustedProxies)

	env.duration("ACTIVITY_TIMEOUT", &cfg.Admission.ActivityTimeout)
	env.duration("SWEEP_INTERVAL", &cfg.Admission.SweepInterval)
	env.duration("RATE_WINDOW", &cfg.Admission.Window)
	env.boolean("BUCKET_EVICTION", &cfg.Admission.BucketEviction)
	env.duration("JANITOR_INTERVAL", &cfg.Admission.JanitorInterval)
	if v, ok := env.get("RATE_TIERS"); ok {
		tiers, err := admission.ParseTiers(v)
		if err != nil {
			env.fail("RATE_TIERS", err)
		} else {
			cfg.Admission.Tiers = tiers
		}
	}

	env.str("JWT_SECRET", &cfg.Auth.JWTSecret)
	env.str("JWT_COOKIE", &cfg.Auth.JWTCookie)

	env.str("REDIS_HOST", &cfg.Redis.Host)
	env.str("REDIS_PORT", &cfg.Redis.Port)
	env.str("REDIS_PASSWORD", &cfg.Redis.Password)
	env.integer("REDIS_DB", &cfg.Redis.DB)
	env.str("STATS_PREFIX", &cfg.Redis.StatsPrefix)
	env.duration("STATS_TTL", &cfg.Redis.StatsTTL)
	env.boolean("STATS_TRACK_KEYS", &cfg.Redis.TrackKeys)

	env.str("DATABASE_URL", &cfg.Database.URL)
	env.integer("REQUEST_LOG_BUFFER", &cfg.Database.RequestLogBuffer)

	env.str("LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(env.errs...)
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = i
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}
