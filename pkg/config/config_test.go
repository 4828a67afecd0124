package config

import (
	"testing"
	"time"
)

func TestFromEnvRequiresDatabaseURL(t *testing.T) {
	t.Setenv("HARVESTER_DATABASE_URL", "")
	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv() expected error without HARVESTER_DATABASE_URL")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("HARVESTER_DATABASE_URL", "postgres://localhost/harvester?sslmode=disable")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.RequestsPerSecond != 0.5 {
		t.Errorf("RequestsPerSecond = %g, want 0.5", cfg.RequestsPerSecond)
	}
	if cfg.PageStart != 1 || cfg.PageEnd != 100 {
		t.Errorf("page range = [%d, %d], want [1, 100]", cfg.PageStart, cfg.PageEnd)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q, want localhost:6379", cfg.RedisAddr)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_DATABASE_URL", "postgres://db/harvester")
	t.Setenv("HARVESTER_WORKERS", "8")
	t.Setenv("HARVESTER_PAGE_START", "50")
	t.Setenv("HARVESTER_PAGE_END", "150")
	t.Setenv("HARVESTER_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("HARVESTER_REQUEST_TIMEOUT", "10s")
	t.Setenv("HARVESTER_DECLARATION_YEAR", "2023")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.PageStart != 50 || cfg.PageEnd != 150 {
		t.Errorf("page range = [%d, %d], want [50, 150]", cfg.PageStart, cfg.PageEnd)
	}
	if cfg.RequestsPerSecond != 2.5 {
		t.Errorf("RequestsPerSecond = %g, want 2.5", cfg.RequestsPerSecond)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.DeclarationYear != 2023 {
		t.Errorf("DeclarationYear = %d, want 2023", cfg.DeclarationYear)
	}
}

func TestFromEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "inverted page range",
			env:  map[string]string{"HARVESTER_PAGE_START": "10", "HARVESTER_PAGE_END": "5"},
		},
		{
			name: "zero page start",
			env:  map[string]string{"HARVESTER_PAGE_START": "0"},
		},
		{
			name: "negative workers",
			env:  map[string]string{"HARVESTER_WORKERS": "-1"},
		},
		{
			name: "zero request rate",
			env:  map[string]string{"HARVESTER_REQUESTS_PER_SECOND": "0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HARVESTER_DATABASE_URL", "postgres://db/harvester")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Error("FromEnv() expected error, got nil")
			}
		})
	}
}
