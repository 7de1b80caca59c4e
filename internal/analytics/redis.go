// Package analytics records windowed job completion counters in Redis.
// The counters feed operational dashboards; losing them never affects
// job processing.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

// Retention bounds how long a completion bucket survives after its last
// increment.
const defaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client, window time.Duration) *RedisSink {
	if window <= 0 {
		window = time.Hour
	}
	return &RedisSink{
		client:    client,
		window:    window,
		retention: defaultRetention,
		clock:     time.Now,
	}
}

// RecordOutcome increments the completion counter for one job name and
// outcome in the current time bucket.
func (s *RedisSink) RecordOutcome(ctx context.Context, name string, status domain.JobStatus) error {
	key := buildKey(name, status, s.clock(), s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func buildKey(name string, status domain.JobStatus, t time.Time, window time.Duration) string {
	return fmt.Sprintf("cdr:jobs:%s:%s:%s", name, status, truncateToBucket(t, window))
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
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("2006010215")
	}
}
