package observability

import "log/slog"

// AppMode tags which binary shape emitted a log record or span: a "mode"
// resource attribute distinguishing a CLI invocation from a long-running
// server process.
type AppMode string

// Application modes.
const (
	ModeCLI    AppMode = "cli"
	ModeServer AppMode = "server"
)

const defaultShutdownTimeoutSec = 5

// Config controls Init: service identity, OTLP export target, sampling,
// and logging format.
type Config struct {
	ServiceName        string
	ServiceVersion     string
	Environment        string
	Mode               AppMode
	LogLevel           slog.Level
	LogJSON            bool
	ShutdownTimeoutSec int

	OTLPEndpoint string
	OTLPInsecure bool
	OTLPHeaders  map[string]string

	SampleRatio  float64
	DebugTrace   bool
	TraceVerbose bool

	// Annotations, if set, is folded into every log record Init's Logger
	// produces via an "annotations" group reflecting whatever attributes
	// the Runtime has begin()-ed at the moment the record is written.
	Annotations *AnnotationContext
}

// DefaultConfig returns the defaults a bare "caliper-demo run" invocation
// uses: CLI mode, info logging, no OTLP export (no-op providers).
func DefaultConfig() Config {
	return Config{
		ServiceName:        "calipergo",
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		LogJSON:            true,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
