package config

import (
	"fmt"
	"net/mail"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required"})
	}

	durations := []struct {
		field string
		raw   string
	}{
		{"CLAIM_INTERVAL", cfg.ClaimIntervalStr},
		{"KILL_GRACE", cfg.KillGraceStr},
		{"DEFAULT_TIMEOUT", cfg.DefaultTimeoutStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"NOTIFY_DRAIN_TIMEOUT", cfg.NotifyDrainTimeoutStr},
		{"REAP_INTERVAL", cfg.ReapIntervalStr},
		{"SCHEDULE_INTERVAL", cfg.ScheduleIntervalStr},
		{"BREAKER_COOLDOWN", cfg.BreakerCooldownStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if parsed <= 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: "must be positive"})
		}
	}

	if cfg.WorkerCount <= 0 {
		errs = append(errs, ValidationError{Field: "WORKER_COUNT", Message: "must be positive"})
	}

	if cfg.MailFrom != "" {
		if _, err := mail.ParseAddress(cfg.MailFrom); err != nil {
			errs = append(errs, ValidationError{
				Field:   "MAIL_FROM",
				Message: fmt.Sprintf("invalid address: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
