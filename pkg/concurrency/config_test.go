package concurrency

import (
	"strings"
	"testing"
)

func TestLoadConfigRespectsEnvironmentOverrides(t *testing.T) {
	t.Setenv("TALOS_MAX_CONCURRENT", "42")
	t.Setenv("TALOS_STEP_WORKERS", "7")
	t.Setenv("TALOS_DISPLAY_PERMITS", "3")
	t.Setenv("TALOS_STEP_MODE", "SEQUENTIAL")

	cfg := LoadConfig()

	if cfg.MaxConcurrent != 42 {
		t.Fatalf("expected MaxConcurrent 42, got %d", cfg.MaxConcurrent)
	}
	if cfg.StepWorkers != 7 {
		t.Fatalf("expected StepWorkers 7, got %d", cfg.StepWorkers)
	}
	if cfg.DisplayPermits != 3 {
		t.Fatalf("expected DisplayPermits 3, got %d", cfg.DisplayPermits)
	}
	if cfg.StepMode != StepModeSequential {
		t.Fatalf("expected sequential step mode, got %s", cfg.StepMode)
	}
	if cfg.Source != ConfigSourceEnvVar {
		t.Fatalf("expected env var source, got %s", cfg.Source)
	}
}

func TestLoadConfigMultiplier(t *testing.T) {
	t.Setenv("TALOS_CONCURRENCY_MULTIPLIER", "3")

	cfg := LoadConfig()
	if cfg.MaxConcurrent != cfg.EffectiveCPUs*3 {
		t.Fatalf("expected %d, got %d", cfg.EffectiveCPUs*3, cfg.MaxConcurrent)
	}
	if cfg.Source != ConfigSourceEnvVar {
		t.Fatalf("expected env var source, got %s", cfg.Source)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("TALOS_STEP_MODE", "bogus")
	t.Setenv("TALOS_DISPLAY_PERMITS", "-2")

	cfg := LoadConfig()
	if cfg.MaxConcurrent < 1 {
		t.Fatalf("expected positive MaxConcurrent, got %d", cfg.MaxConcurrent)
	}
	if cfg.StepWorkers < 1 {
		t.Fatalf("expected positive StepWorkers, got %d", cfg.StepWorkers)
	}
	if cfg.DisplayPermits != 1 {
		t.Fatalf("expected DisplayPermits 1, got %d", cfg.DisplayPermits)
	}
	if cfg.StepMode != StepModeParallel {
		t.Fatalf("expected parallel fallback, got %s", cfg.StepMode)
	}
	if cfg.Source != ConfigSourceAutoDetect {
		t.Fatalf("expected auto-detect source, got %s", cfg.Source)
	}
}

func TestConfigGates(t *testing.T) {
	cfg := &Config{MaxConcurrent: 4, DisplayPermits: 1}
	if cfg.StepGate().Max() != 4 || cfg.StepGate().Available() != 4 {
		t.Fatal("step gate should start full at MaxConcurrent")
	}
	if cfg.DisplayGate().Max() != 1 {
		t.Fatal("display gate should be bounded by DisplayPermits")
	}
	if !strings.Contains(cfg.String(), "MaxConcurrent: 4") {
		t.Fatalf("unexpected String(): %s", cfg.String())
	}
}
