package registry

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/runtime"
	"github.com/wehubfusion/Talos/pkg/storage"
)

// Options configures a Registry.
type Options struct {
	Logger *zap.Logger

	// GUI surfaces errors and confirms destructive operations. Defaults to
	// runtime.NullGUI.
	GUI runtime.GUI

	// ControllerFactory creates experiment controllers. Defaults to
	// NewLocalController.
	ControllerFactory ControllerFactory

	// Headless and ServerMode decide whether a stopping error is returned to
	// the host (headless, not server) or pauses the frontmost experiment.
	Headless   bool
	ServerMode bool

	// RevealAndStop lets errors stop the simulation.
	RevealAndStop bool

	// WarningsAsErrors promotes warnings to errors.
	WarningsAsErrors bool

	// Benchmark records per-unit timings for every experiment.
	Benchmark bool

	// BenchmarkHooks are installed next to the recorder, e.g. an OpenTelemetry hook.
	BenchmarkHooks []runtime.Benchmark

	// Archive receives benchmark reports when an experiment closes.
	Archive *storage.ArchiveClient

	// Trace enables execution tracing on scopes created by the registry.
	Trace bool

	// RunID identifies the process run in archives and events.
	RunID string
}

// DefaultOptions returns the options of an interactive session.
func DefaultOptions() Options {
	return Options{
		RevealAndStop: true,
		RunID:         uuid.NewString(),
	}
}

// OptionsFromEnv reads options from environment variables, falling back to
// DefaultOptions.
func OptionsFromEnv() Options {
	opts := DefaultOptions()
	opts.Headless = getEnvBool("TALOS_HEADLESS", opts.Headless)
	opts.ServerMode = getEnvBool("TALOS_SERVER_MODE", opts.ServerMode)
	opts.RevealAndStop = getEnvBool("TALOS_REVEAL_AND_STOP", opts.RevealAndStop)
	opts.WarningsAsErrors = getEnvBool("TALOS_WARNINGS_AS_ERRORS", opts.WarningsAsErrors)
	opts.Benchmark = getEnvBool("TALOS_BENCHMARK", opts.Benchmark)
	opts.Trace = getEnvBool("TALOS_TRACE", opts.Trace)
	if runID := os.Getenv("TALOS_RUN_ID"); runID != "" {
		opts.RunID = runID
	}
	return opts
}

// String returns a summary for logging.
func (o Options) String() string {
	return fmt.Sprintf("Registry Options{Headless: %t, ServerMode: %t, RevealAndStop: %t, WarningsAsErrors: %t, Benchmark: %t, Trace: %t, RunID: %s}",
		o.Headless, o.ServerMode, o.RevealAndStop, o.WarningsAsErrors, o.Benchmark, o.Trace, o.RunID)
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}
