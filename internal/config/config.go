package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the batch job service and worker
// daemon. Values are loaded from environment variables; see the usage
// text in cmd/batchjobs for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// BaseURL is the externally reachable prefix used when building
	// status URLs for response pages and notification mail.
	BaseURL string `json:"base_url"`

	ArtifactDir string `json:"artifact_dir"`
	JobManifest string `json:"job_manifest"`

	// Host identifies this machine for claim scoping. Jobs pinned to a
	// different host are never claimed here.
	Host        string `json:"host"`
	WorkerCount int    `json:"worker_count"`

	ClaimInterval    time.Duration `json:"-"`
	ClaimIntervalStr string        `json:"claim_interval"`

	KillGrace    time.Duration `json:"-"`
	KillGraceStr string        `json:"kill_grace"`

	// DefaultTimeout applies to jobs whose definition declares none.
	DefaultTimeout    time.Duration `json:"-"`
	DefaultTimeoutStr string        `json:"default_timeout"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	NotifyDrainTimeout    time.Duration `json:"-"`
	NotifyDrainTimeoutStr string        `json:"notify_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	ReapInterval    time.Duration `json:"-"`
	ReapIntervalStr string        `json:"reap_interval"`
	ReapBatchSize   int           `json:"reap_batch_size"`

	ScheduleEnabled     bool          `json:"schedule_enabled"`
	ScheduleInterval    time.Duration `json:"-"`
	ScheduleIntervalStr string        `json:"schedule_interval"`

	// ScheduleSubmitter is recorded as the submitter of jobs admitted by
	// the schedule runner.
	ScheduleSubmitter string `json:"schedule_submitter"`

	SMTPAddr string `json:"smtp_addr"`
	MailFrom string `json:"mail_from"`

	BreakerThreshold   int           `json:"breaker_threshold"`
	BreakerCooldown    time.Duration `json:"-"`
	BreakerCooldownStr string        `json:"breaker_cooldown"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// LeaderLockKey is the base advisory-lock key; worker instances
	// sharing a database must agree on it. The effective key is derived
	// per host, so each host elects its own coordinator.
	LeaderLockKey int64 `json:"leader_lock_key"`

	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		HTTPAddr:    os.Getenv("HTTP_ADDR"),
		BaseURL:     os.Getenv("BASE_URL"),
		ArtifactDir: os.Getenv("ARTIFACT_DIR"),
		JobManifest: os.Getenv("JOB_MANIFEST"),
		Host:        os.Getenv("JOB_HOST"),
		SMTPAddr:    os.Getenv("SMTP_ADDR"),
		MailFrom:    os.Getenv("MAIL_FROM"),

		MetricsEnabled:    os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:       os.Getenv("METRICS_PATH"),
		MetricsPort:       os.Getenv("METRICS_PORT"),
		ScheduleEnabled:   os.Getenv("SCHEDULE_ENABLED") == "true",
		ScheduleSubmitter: os.Getenv("SCHEDULE_SUBMITTER"),

		ClaimIntervalStr:           os.Getenv("CLAIM_INTERVAL"),
		KillGraceStr:               os.Getenv("KILL_GRACE"),
		DefaultTimeoutStr:          os.Getenv("DEFAULT_TIMEOUT"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		NotifyDrainTimeoutStr:      os.Getenv("NOTIFY_DRAIN_TIMEOUT"),
		ReapIntervalStr:            os.Getenv("REAP_INTERVAL"),
		ScheduleIntervalStr:        os.Getenv("SCHEDULE_INTERVAL"),
		BreakerCooldownStr:         os.Getenv("BREAKER_COOLDOWN"),
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	cfg.WorkerCount = envInt("WORKER_COUNT", 4)
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.ReapBatchSize = envInt("REAP_BATCH_SIZE", 100)
	cfg.BreakerThreshold = envInt("BREAKER_THRESHOLD", 5)
	cfg.EventBusBufferSize = envInt("EVENTBUS_BUFFER_SIZE", 100)
	cfg.LeaderLockKey = int64(envInt("LEADER_LOCK_KEY", 424290))

	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "/var/lib/batchjobs/artifacts"
	}
	if cfg.JobManifest == "" {
		cfg.JobManifest = "jobs.yaml"
	}
	if cfg.Host == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.Host = hostname
		} else {
			cfg.Host = "localhost"
		}
	}
	if cfg.ScheduleSubmitter == "" {
		cfg.ScheduleSubmitter = "scheduler@" + cfg.Host
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}

	applyDefault(&cfg.ClaimIntervalStr, "5s")
	applyDefault(&cfg.KillGraceStr, "10s")
	applyDefault(&cfg.DefaultTimeoutStr, "30m")
	applyDefault(&cfg.DBOpTimeoutStr, "5s")
	applyDefault(&cfg.DBConnMaxLifetimeStr, "30m")
	applyDefault(&cfg.HTTPShutdownTimeoutStr, "10s")
	applyDefault(&cfg.NotifyDrainTimeoutStr, "30s")
	applyDefault(&cfg.ReapIntervalStr, "1m")
	applyDefault(&cfg.ScheduleIntervalStr, "30s")
	applyDefault(&cfg.BreakerCooldownStr, "2m")
	applyDefault(&cfg.LeaderRetryIntervalStr, "5s")
	applyDefault(&cfg.LeaderHeartbeatIntervalStr, "2s")

	// Parse durations; validation is handled separately by Validate().
	parseDuration(&cfg.ClaimInterval, cfg.ClaimIntervalStr)
	parseDuration(&cfg.KillGrace, cfg.KillGraceStr)
	parseDuration(&cfg.DefaultTimeout, cfg.DefaultTimeoutStr)
	parseDuration(&cfg.DBOpTimeout, cfg.DBOpTimeoutStr)
	parseDuration(&cfg.DBConnMaxLifetime, cfg.DBConnMaxLifetimeStr)
	parseDuration(&cfg.HTTPShutdownTimeout, cfg.HTTPShutdownTimeoutStr)
	parseDuration(&cfg.NotifyDrainTimeout, cfg.NotifyDrainTimeoutStr)
	parseDuration(&cfg.ReapInterval, cfg.ReapIntervalStr)
	parseDuration(&cfg.ScheduleInterval, cfg.ScheduleIntervalStr)
	parseDuration(&cfg.BreakerCooldown, cfg.BreakerCooldownStr)
	parseDuration(&cfg.LeaderRetryInterval, cfg.LeaderRetryIntervalStr)
	parseDuration(&cfg.LeaderHeartbeatInterval, cfg.LeaderHeartbeatIntervalStr)

	return cfg
}

func applyDefault(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func parseDuration(dst *time.Duration, s string) {
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// envInt reads a positive integer environment variable, logging and
// falling back to def on invalid input.
func envInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			log.Printf("config: invalid %s %q (must be a positive integer), using default %d", name, s, def)
			return def
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
