package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ANALYSIS_TIMEOUT", "45s")
	t.Setenv("PENDING_DISPLAY_DELAY", "2500")
	t.Setenv("DB_PATH", "./data/test.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Analysis.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", cfg.Analysis.Timeout)
	}
	if cfg.Analysis.DisplayDelay != 2500*time.Millisecond {
		t.Errorf("DisplayDelay = %v, want 2.5s", cfg.Analysis.DisplayDelay)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("ANALYSIS_TIMEOUT", "0s")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "ANALYSIS_TIMEOUT") {
		t.Fatalf("Load() error = %v, want ANALYSIS_TIMEOUT complaint", err)
	}
}

func TestGetEnvDurationFallback(t *testing.T) {
	t.Setenv("DESK_TEST_DURATION", "soon")
	if got := getEnvDuration("DESK_TEST_DURATION", 3*time.Second); got != 3*time.Second {
		t.Errorf("getEnvDuration() = %v, want fallback", got)
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frontend string
		want     []string
	}{
		{"dev", "", []string{"*"}},
		{"localhost", "http://localhost:5173", []string{"*"}},
		{"list", "https://desk.example.com, https://app.example.com", []string{"https://desk.example.com", "https://app.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := (&Config{FrontendURL: tt.frontend}).AllowedOrigins()
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("AllowedOrigins() = %v, want %v", got, tt.want)
			}
		})
	}
}
