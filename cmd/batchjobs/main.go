package main

import (
	"context"
	"database/sql"
	"fmt"
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
	"github.com/NCIOCPL/cdr-admin-sub007/internal/api"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/circuitbreaker"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/config"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/jobdefs"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/metrics"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/notify"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/session"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store/postgres"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`batchjobs - CDR batch report job service

Usage:
  batchjobs <command>

Commands:
  serve      Start the admission and status HTTP service
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for completion analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or PORT)
  BASE_URL                  External URL prefix for links in mail (default: "http://localhost:8080")
  JOB_MANIFEST              Path to the job manifest (default: "jobs.yaml")
  JOB_HOST                  Execution host recorded on admitted jobs (default: hostname)
  DEFAULT_TIMEOUT           Timeout for jobs whose definition declares none (default: "30m")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  NOTIFY_DRAIN_TIMEOUT      Notification drain timeout on shutdown (default: "30s")

  SMTP_ADDR                 Mail relay address, host:port (required for mail)
  MAIL_FROM                 From address on completion mail (required for mail)
  BREAKER_THRESHOLD         Relay failures before the circuit opens (default: "5")
  BREAKER_COOLDOWN          Circuit cooldown before a probe (default: "2m")
  EVENTBUS_BUFFER_SIZE      Event buffer capacity (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	registry, err := jobdefs.Load(cfg.JobManifest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manifest error: %v\n", err)
		return exitInvalidConfig
	}
	log.Printf("batchjobs: manifest loaded (%d job types)", len(registry.Names()))

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	jobStore := postgres.New(db, cfg.DBOpTimeout).WithClassLimits(registry.ClassLimits())
	sessions := session.NewResolver(jobStore)

	var metricsSink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
		go func() {
			log.Printf("batchjobs: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("batchjobs: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("batchjobs: METRICS_ENABLED not set; metrics disabled")
	}

	// Operator cancellations produce completion mail from this process;
	// worker-recorded completions are mailed by the worker daemon.
	bus := channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(metricsSink))

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
			log.Printf("batchjobs: analytics enabled (redis=%s)", cfg.RedisAddr)
		}
	} else {
		log.Println("batchjobs: SMTP_ADDR not set; completion mail disabled")
	}

	server := api.NewServer(api.Config{
		Host:           cfg.Host,
		DefaultTimeout: cfg.DefaultTimeout,
	}, jobStore, sessions, registry, bus)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}
	go func() {
		log.Printf("batchjobs: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("batchjobs: http server error: %v", err)
		}
	}()

	notifierCtx, cancelNotifier := context.WithCancel(context.Background())
	var notifierWg sync.WaitGroup
	if notifier != nil {
		notifierWg.Add(1)
		go func() {
			defer notifierWg.Done()
			notifier.Run(notifierCtx)
		}()
	}

	log.Printf("batchjobs: started (http=%s, host=%s)", cfg.HTTPAddr, cfg.Host)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Printf("batchjobs: received signal %v, shutting down", received)

	// Phase 1: stop accepting requests (no new transitions, no new events)
	log.Println("batchjobs: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("batchjobs: http server shutdown error: %v", err)
	}
	log.Println("batchjobs: http server stopped")

	// Phase 2: drain notifications for transitions already recorded
	if notifier != nil {
		log.Println("batchjobs: stopping notifier (draining events)...")
		cancelNotifier()
		notifierWg.Wait()
		log.Println("batchjobs: notifier stopped")
	} else {
		cancelNotifier()
	}

	// Phase 3: stop the metrics server
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("batchjobs: metrics server shutdown error: %v", err)
		}
	}

	log.Println("batchjobs: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	if _, err := jobdefs.Load(cfg.JobManifest); err != nil {
		fmt.Fprintf(os.Stderr, "manifest: %v\n", err)
		return exitInvalidConfig
	}
	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()
	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("batchjobs version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
