package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.SQLitePath != "engine.db" {
		t.Errorf("SQLitePath = %q, want engine.db", cfg.SQLitePath)
	}
	if cfg.ContextWindowSize != 10 {
		t.Errorf("ContextWindowSize = %d, want 10", cfg.ContextWindowSize)
	}
	if cfg.HumanMessageExpiry != 10*time.Second {
		t.Errorf("HumanMessageExpiry = %v, want 10s", cfg.HumanMessageExpiry)
	}
	if cfg.OutreachCooldownWindow != 24*time.Hour {
		t.Errorf("OutreachCooldownWindow = %v, want 24h", cfg.OutreachCooldownWindow)
	}
	if cfg.OutreachCooldownGlobal {
		t.Error("OutreachCooldownGlobal must default to false")
	}
	if cfg.GenerationFallback != "reply" {
		t.Errorf("GenerationFallback = %q, want reply", cfg.GenerationFallback)
	}
	if cfg.MaxConcurrentGenerations != 4 {
		t.Errorf("MaxConcurrentGenerations = %d, want 4", cfg.MaxConcurrentGenerations)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("GENERATION_FALLBACK", "skip")
	t.Setenv("OUTREACH_COOLDOWN_GLOBAL", "true")
	t.Setenv("INACTIVITY_WINDOW", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.LLMProvider != "anthropic" {
		t.Errorf("LLMProvider = %q, want anthropic", cfg.LLMProvider)
	}
	if cfg.GenerationFallback != "skip" {
		t.Errorf("GenerationFallback = %q, want skip", cfg.GenerationFallback)
	}
	if !cfg.OutreachCooldownGlobal {
		t.Error("OutreachCooldownGlobal override not applied")
	}
	if cfg.InactivityWindow != 48*time.Hour {
		t.Errorf("InactivityWindow = %v, want 48h", cfg.InactivityWindow)
	}
}

func TestLoad_RejectsUnknownFallback(t *testing.T) {
	t.Setenv("GENERATION_FALLBACK", "shrug")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted an unknown GENERATION_FALLBACK")
	}
}

func TestLoad_FloorsConcurrency(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_GENERATIONS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.MaxConcurrentGenerations != 1 {
		t.Errorf("MaxConcurrentGenerations = %d, want floor of 1", cfg.MaxConcurrentGenerations)
	}
}
