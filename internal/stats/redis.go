package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The subset of storage.RedisClient the store needs
type RedisBackend interface {
	Pipeline() redis.Pipeliner
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Counters kept in Redis hashes under prefix:
//
//	<prefix>:total                 allowed / denied, never expires
//	<prefix>:tier                  "<limit>:allowed" / "<limit>:denied"
//	<prefix>:minute:<yyyymmddhhmm> allowed / denied, expires after ttl
//	<prefix>:route                 "<method> <path>:allowed" / ...
//	<prefix>:key:<caller>          allowed / denied, only with key tracking
type RedisStore struct {
	rdb RedisBackend

	prefix    string
	ttl       time.Duration
	trackKeys bool
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func WithRedisTrackKeys(track bool) RedisOption {
	return func(s *RedisStore) { s.trackKeys = track }
}

func NewRedisStore(rdb RedisBackend, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "admission:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := outcome(ev.Allowed)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	pipe.HIncrBy(ctx, s.prefix+":tier", strconv.Itoa(ev.TierLimit)+":"+field, 1)

	minuteKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, minuteKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, minuteKey, s.ttl)
	}

	route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(ev.Key); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Summary(ctx context.Context) (Summary, error) {
	total, err := s.rdb.HGetAll(ctx, s.prefix+":total")
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read totals: %w", err)
	}

	tiers, err := s.rdb.HGetAll(ctx, s.prefix+":tier")
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read tier counters: %w", err)
	}

	sum := Summary{ByTier: make(map[string]Counters)}
	sum.Total.Allowed = parseCount(total["allowed"])
	sum.Total.Denied = parseCount(total["denied"])

	for field, v := range tiers {
		tier, which, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}

		c := sum.ByTier[tier]
		switch which {
		case "allowed":
			c.Allowed = parseCount(v)
		case "denied":
			c.Denied = parseCount(v)
		default:
			continue
		}
		sum.ByTier[tier] = c
	}

	return sum, nil
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func parseCount(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
