package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// No env vars set beyond what the test runner inherits.
	t.Setenv("DATABASE_URL", "postgres://cdr:secret@db/batch")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("CLAIM_INTERVAL", "")
	t.Setenv("WORKER_COUNT", "")
	t.Setenv("JOB_HOST", "")

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.ClaimInterval != 5*time.Second {
		t.Errorf("ClaimInterval = %s, want 5s", cfg.ClaimInterval)
	}
	if cfg.DefaultTimeout != 30*time.Minute {
		t.Errorf("DefaultTimeout = %s, want 30m", cfg.DefaultTimeout)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", cfg.WorkerCount)
	}
	if cfg.Host == "" {
		t.Error("Host should default to the machine hostname")
	}
	if cfg.KillGrace != 10*time.Second {
		t.Errorf("KillGrace = %s, want 10s", cfg.KillGrace)
	}
}

func TestLoad_PortFallback(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "3000")

	cfg := Load()
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "not-a-number")

	cfg := Load()
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want default 4", cfg.WorkerCount)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "bad claim interval",
			mutate:  func(c *Config) { c.ClaimIntervalStr = "soon" },
			wantErr: "CLAIM_INTERVAL",
		},
		{
			name:    "negative default timeout",
			mutate:  func(c *Config) { c.DefaultTimeoutStr = "-5m" },
			wantErr: "DEFAULT_TIMEOUT",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.WorkerCount = 0 },
			wantErr: "WORKER_COUNT",
		},
		{
			name:    "bad mail from",
			mutate:  func(c *Config) { c.MailFrom = "not an address" },
			wantErr: "MAIL_FROM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				DatabaseURL:      "postgres://cdr@db/batch",
				ClaimIntervalStr: "5s",
				WorkerCount:      4,
			}
			tt.mutate(&cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate returned %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate returned nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %s", err, tt.wantErr)
			}
		})
	}
}

func TestMaskedJSON(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://cdr:secret@db/batch"}
	data, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON failed: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "secret") {
		t.Error("MaskedJSON leaked the database password")
	}
	if !strings.Contains(s, "postgres://***") {
		t.Errorf("MaskedJSON should preserve the scheme, got %s", s)
	}
}
