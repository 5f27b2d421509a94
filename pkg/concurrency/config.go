package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// StepMode defines how independent agents of one cycle are stepped
type StepMode string

const (
	StepModeParallel   StepMode = "parallel"
	StepModeSequential StepMode = "sequential"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
	ConfigSourceDefault    ConfigSource = "default"
)

// Config holds concurrency configuration parameters
type Config struct {
	// MaxConcurrent bounds the number of agent steps running at once
	MaxConcurrent int
	// StepWorkers is the number of goroutines in a stepping pool
	StepWorkers int
	// DisplayPermits bounds concurrent access to display outputs
	DisplayPermits int
	StepMode       StepMode
	Source         ConfigSource
	IsKubernetes   bool
	EffectiveCPUs  int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection > defaults
func LoadConfig() *Config {
	config := &Config{}

	config.IsKubernetes = isKubernetes()

	// Respects cgroup limits once InitializeForKubernetes has run
	config.EffectiveCPUs = runtime.GOMAXPROCS(0)

	if maxConcurrent := getEnvInt("TALOS_MAX_CONCURRENT", 0); maxConcurrent > 0 {
		config.MaxConcurrent = maxConcurrent
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("TALOS_CONCURRENCY_MULTIPLIER", 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	if workers := getEnvInt("TALOS_STEP_WORKERS", 0); workers > 0 {
		config.StepWorkers = workers
	} else {
		config.StepWorkers = getDefaultStepWorkers(config.IsKubernetes, config.EffectiveCPUs)
	}

	// A single display permit keeps outputs serialized unless told otherwise
	config.DisplayPermits = getEnvInt("TALOS_DISPLAY_PERMITS", 1)
	if config.DisplayPermits < 1 {
		config.DisplayPermits = 1
	}

	if mode := getEnv("TALOS_STEP_MODE", ""); mode != "" {
		config.StepMode = StepMode(strings.ToLower(mode))
	} else {
		config.StepMode = StepModeParallel
	}

	if config.StepMode != StepModeParallel && config.StepMode != StepModeSequential {
		config.StepMode = StepModeParallel
	}

	return config
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns defaults based on environment
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 2
	}
	return cpus * 4
}

// getDefaultStepWorkers returns defaults for the stepping pool
func getDefaultStepWorkers(isK8s bool, cpus int) int {
	if isK8s {
		return max(cpus, 4)
	}
	return max(cpus*2, 8)
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, StepWorkers: %d, DisplayPermits: %d, StepMode: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.StepWorkers,
		c.DisplayPermits,
		c.StepMode,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}

// StepGate returns a gate sized for concurrent agent steps
func (c *Config) StepGate() *Gate {
	return NewGate(c.MaxConcurrent, c.MaxConcurrent)
}

// DisplayGate returns a gate sized for concurrent display access
func (c *Config) DisplayGate() *Gate {
	return NewGate(c.DisplayPermits, c.DisplayPermits)
}
