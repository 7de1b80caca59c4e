// Package leaderelection elects a single host-wide coordinator with a
// Postgres session advisory lock. The reaper and the schedule runner
// must not run on two worker processes at once; whichever process holds
// the lock runs them.
//
// The lock has no TTL. It lives as long as the dedicated connection,
// and Postgres releases it server-side when that connection dies. The
// heartbeat ping only detects local connection death so a demoted
// process stops its duties promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// MetricsSink records leadership changes. Non-blocking.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string) // "shutdown", "conn_lost"
}

type Config struct {
	LockKey           int64
	RetryInterval     time.Duration
	HeartbeatInterval time.Duration
}

// Elector runs duties while this process holds the advisory lock.
// duties must block until its context is cancelled; the elector cancels
// that context when leadership or the process is lost.
type Elector struct {
	config  Config
	db      *sql.DB
	duties  func(ctx context.Context)
	metrics MetricsSink
}

func New(config Config, db *sql.DB, duties func(ctx context.Context)) *Elector {
	if config.RetryInterval <= 0 {
		config.RetryInterval = 5 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Second
	}
	return &Elector{config: config, db: db, duties: duties}
}

// WithMetrics attaches a metrics sink.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run blocks until ctx is cancelled, acquiring the lock whenever it is
// free and running duties while it is held.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: election loop started (lock_key=%d, retry=%s)",
		e.config.LockKey, e.config.RetryInterval)

	for {
		if reason := e.tryLead(ctx); reason != "" {
			log.Printf("leader: leadership ended (%s)", reason)
		}
		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.config.RetryInterval):
		}
	}
}

// tryLead attempts one acquire-and-hold cycle. It returns the reason
// leadership ended, or "" when the lock was never acquired.
func (e *Elector) tryLead(ctx context.Context) string {
	// Session advisory locks belong to one connection, so the lock
	// must be taken and held on a dedicated one.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: dedicated connection: %v", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.config.LockKey).Scan(&acquired)
	if err != nil {
		log.Printf("leader: lock query: %v", err)
		return ""
	}
	if !acquired {
		return ""
	}

	log.Printf("leader: acquired lock %d", e.config.LockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
	}

	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lost := make(chan string, 1)
	go func() {
		lost <- e.holdLock(leaderCtx, conn)
		cancel()
	}()

	e.duties(leaderCtx)
	cancel()
	reason := <-lost

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	return reason
}

// holdLock pings the dedicated connection until it dies or ctx ends.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: heartbeat ping failed: %v", err)
				return "conn_lost"
			}
		}
	}
}
