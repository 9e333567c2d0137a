// Package analytics keeps per-job fire counters and lateness totals in
// Redis, bucketed by time window, so benchmark runs can be compared after
// the process exits.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/schedbench/internal/circuitbreaker"
	"github.com/djlord-it/schedbench/internal/domain"
)

const (
	DefaultWindow    = time.Minute
	DefaultRetention = 24 * time.Hour
	DefaultKeyPrefix = "schedbench"

	// Writes stop for BreakerCooldown after BreakerThreshold consecutive
	// failures so an unreachable Redis does not slow every job down.
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second

	writeTimeout = 2 * time.Second
)

type Config struct {
	KeyPrefix string
	Window    time.Duration
	Retention time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type RedisSink struct {
	client  *redis.Client
	config  Config
	breaker *circuitbreaker.Breaker
	target  string
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.BreakerThreshold <= 0 {
		config.BreakerThreshold = DefaultBreakerThreshold
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = DefaultBreakerCooldown
	}
	return &RedisSink{
		client:  client,
		config:  config,
		breaker: circuitbreaker.New(config.BreakerThreshold, config.BreakerCooldown),
		target:  "redis:" + client.Options().Addr,
	}
}

// Record writes the event and logs failures. Analytics never affects job
// execution.
func (s *RedisSink) Record(ctx context.Context, event domain.FiredEvent, outcome string) {
	err := s.breaker.Do(s.target, func() error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return s.Write(wctx, event, outcome)
	})
	switch {
	case err == nil:
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		// Skipped until the cooldown elapses.
	default:
		log.Printf("analytics: job=%s write failed (breaker=%s): %v",
			event.Job.Key, s.breaker.State(s.target), err)
	}
}

// Write increments the fire and outcome counters for the event's bucket and
// adds its lateness in milliseconds.
func (s *RedisSink) Write(ctx context.Context, event domain.FiredEvent, outcome string) error {
	job := event.Job.Key.String()
	bucket := truncateToBucket(event.ScheduledFireTime, s.config.Window)
	lateness := event.FireTime.Sub(event.ScheduledFireTime).Milliseconds()
	if lateness < 0 {
		lateness = 0
	}

	firedKey := buildKey(s.config.KeyPrefix, job, "fired", bucket)
	outcomeKey := buildKey(s.config.KeyPrefix, job, outcome, bucket)
	latenessKey := buildKey(s.config.KeyPrefix, job, "lateness_ms", bucket)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, firedKey)
	pipe.Incr(ctx, outcomeKey)
	pipe.IncrBy(ctx, latenessKey, lateness)
	for _, key := range []string{firedKey, outcomeKey, latenessKey} {
		pipe.Expire(ctx, key, s.config.Retention)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// PingContext checks connectivity for verbose health responses.
func (s *RedisSink) PingContext(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func buildKey(prefix, job, metric, bucket string) string {
	return fmt.Sprintf("%s:j:%s:%s:%s", prefix, job, metric, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
