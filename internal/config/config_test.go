package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Workers)
	}
	if cfg.PerDomainConcurrency != 2 {
		t.Errorf("PerDomainConcurrency = %d, want 2", cfg.PerDomainConcurrency)
	}
	if cfg.PerDomainMinInterval != 3*time.Second {
		t.Errorf("PerDomainMinInterval = %v, want 3s", cfg.PerDomainMinInterval)
	}
	if cfg.GlobalTimeout != 180*time.Second {
		t.Errorf("GlobalTimeout = %v, want 180s", cfg.GlobalTimeout)
	}
	if cfg.ChangeApprovalThreshold != 0.15 {
		t.Errorf("ChangeApprovalThreshold = %v, want 0.15", cfg.ChangeApprovalThreshold)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WORKERS", "8")
	t.Setenv("FETCH_TIMEOUT", "10s")
	t.Setenv("LLM_MODEL", "claude-3-5-sonnet-20241022")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, want 10s", cfg.FetchTimeout)
	}
	if cfg.LLMModel != "claude-3-5-sonnet-20241022" {
		t.Errorf("LLMModel = %q", cfg.LLMModel)
	}
}

func TestLoadRejectsInvalidWorkers(t *testing.T) {
	t.Setenv("WORKERS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for WORKERS=0")
	}
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("CHANGE_APPROVAL_THRESHOLD", "0.60")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when approval threshold exceeds review threshold")
	}
}

func TestLLMEnabled(t *testing.T) {
	cfg := &Config{}
	if cfg.LLMEnabled() {
		t.Error("LLMEnabled() = true without API key")
	}
	cfg.LLMAPIKey = "sk-test"
	if !cfg.LLMEnabled() {
		t.Error("LLMEnabled() = false with API key")
	}
}
