package mamori

import (
	"log/slog"

	"github.com/mamori-ai/mamori/internal/export"
	"github.com/mamori-ai/mamori/internal/sampler"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	logger      *slog.Logger
	version     string
	extraSinks  []export.Sink
	loadProbe   sampler.LoadProbe
	samplerSeed int64
}

// WithPort overrides the TCP port from config (MAMORI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithSink registers an additional export sink. Every flushed span batch is
// delivered to each registered sink after the built-in ones.
func WithSink(s export.Sink) Option {
	return func(o *resolvedOptions) { o.extraSinks = append(o.extraSinks, s) }
}

// WithLoadProbe replaces the system CPU/memory probe driving load-based
// sampling reduction. Tests use a static probe.
func WithLoadProbe(p sampler.LoadProbe) Option {
	return func(o *resolvedOptions) { o.loadProbe = p }
}

// WithSamplerSeed pins the sampler's random source for reproducible runs.
// Zero (the default) seeds from the clock.
func WithSamplerSeed(seed int64) Option {
	return func(o *resolvedOptions) { o.samplerSeed = seed }
}
