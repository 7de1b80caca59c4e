package main

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/analytics"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/circuitbreaker"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/config"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/cron"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/jobdefs"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/leaderelection"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/metrics"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/notify"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/reaper"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/runner"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/schedule"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store/postgres"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/transport/channel"

	_ "github.com/lib/pq"
)

// cronParserAdapter adapts internal/cron.Parser to schedule.CronParser.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression, timezone string) (schedule.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("worker version %s (commit: %s)\n", version, commit)
		return
	}

	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	registry, err := jobdefs.Load(cfg.JobManifest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest error: %v\n", err)
		os.Exit(2)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}

	jobStore := postgres.New(db, cfg.DBOpTimeout).WithClassLimits(registry.ClassLimits())

	var metricsSink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
		go func() {
			log.Printf("worker: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("worker: metrics server error: %v", err)
			}
		}()
	}

	bus := channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(metricsSink))

	executor := &runner.CommandExecutor{KillGrace: cfg.KillGrace}
	jobRunner := runner.New(runner.Config{
		Host:          cfg.Host,
		Workers:       cfg.WorkerCount,
		ClaimInterval: cfg.ClaimInterval,
		ArtifactDir:   cfg.ArtifactDir,
	}, jobStore, executor, bus).WithMetrics(metricsSink)

	var notifier *notify.Notifier
	if cfg.SMTPAddr != "" {
		sender := &notify.SMTPSender{Addr: cfg.SMTPAddr, From: cfg.MailFrom}
		breaker := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
		notifier = notify.New(notify.Config{
			RelayKey:     cfg.SMTPAddr,
			DrainTimeout: cfg.NotifyDrainTimeout,
		}, bus.Channel(), jobStore, sender, breaker, notify.NewRenderer(cfg.BaseURL)).
			WithMetrics(metricsSink)
		if cfg.RedisAddr != "" {
			redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			notifier = notifier.WithAnalytics(analytics.NewRedisSink(redisClient, 0))
			log.Printf("worker: analytics enabled (redis=%s)", cfg.RedisAddr)
		}
	} else {
		log.Println("worker: SMTP_ADDR not set; completion mail disabled")
	}

	// The reaper and the schedule runner are host-wide singletons; the
	// advisory-lock leader runs them so scaling out worker processes
	// does not double them up.
	hostReaper := reaper.New(reaper.Config{
		Host:      cfg.Host,
		Interval:  cfg.ReapInterval,
		BatchSize: cfg.ReapBatchSize,
	}, jobStore, bus).WithMetrics(metricsSink)

	var scheduler *schedule.Scheduler
	if cfg.ScheduleEnabled {
		scheduler = schedule.New(schedule.Config{
			TickInterval:   cfg.ScheduleInterval,
			Host:           cfg.Host,
			DefaultTimeout: cfg.DefaultTimeout,
			SubmitterEmail: cfg.ScheduleSubmitter,
		}, jobStore, registry, &cronParserAdapter{parser: cron.NewParser()}).
			WithMetrics(metricsSink)
	} else {
		log.Println("worker: SCHEDULE_ENABLED not set; recurring schedules disabled")
	}

	// One leader per host: the reaper can only probe pids on its own
	// machine, and the schedule watermark makes concurrent schedule
	// runners on other hosts harmless.
	hostHash := fnv.New32a()
	hostHash.Write([]byte(cfg.Host))
	lockKey := cfg.LeaderLockKey ^ int64(hostHash.Sum32())

	elector := leaderelection.New(leaderelection.Config{
		LockKey:           lockKey,
		RetryInterval:     cfg.LeaderRetryInterval,
		HeartbeatInterval: cfg.LeaderHeartbeatInterval,
	}, db, func(ctx context.Context) {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			hostReaper.Run(ctx)
		}()
		if scheduler != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				scheduler.Run(ctx)
			}()
		}
		wg.Wait()
	}).WithMetrics(metricsSink)

	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	electorCtx, cancelElector := context.WithCancel(context.Background())
	notifierCtx, cancelNotifier := context.WithCancel(context.Background())

	var runnerWg, electorWg, notifierWg sync.WaitGroup

	runnerWg.Add(1)
	go func() {
		defer runnerWg.Done()
		jobRunner.Run(runnerCtx)
	}()

	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	if notifier != nil {
		notifierWg.Add(1)
		go func() {
			defer notifierWg.Done()
			notifier.Run(notifierCtx)
		}()
	}

	log.Printf("worker: started (host=%s, workers=%d)", cfg.Host, cfg.WorkerCount)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Printf("worker: received signal %v, shutting down", received)

	// Phase 1: stop claiming and finish in-flight jobs
	log.Println("worker: stopping runner...")
	cancelRunner()
	runnerWg.Wait()
	log.Println("worker: runner stopped")

	// Phase 2: release leadership (stops reaper and schedule runner)
	log.Println("worker: stopping leader duties...")
	cancelElector()
	electorWg.Wait()
	log.Println("worker: leader duties stopped")

	// Phase 3: drain notifications for everything recorded above
	if notifier != nil {
		log.Println("worker: stopping notifier (draining events)...")
		cancelNotifier()
		notifierWg.Wait()
		log.Println("worker: notifier stopped")
	} else {
		cancelNotifier()
	}

	// Phase 4: stop the metrics server
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: metrics server shutdown error: %v", err)
		}
	}

	log.Println("worker: stopped")
}
