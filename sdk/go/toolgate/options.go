package toolgate

import (
	"context"
	"log/slog"
)

// Option configures a Registry at creation time.
type Option func(*registryConfig)

type registryConfig struct {
	logger  *slog.Logger
	quality func(ctx context.Context, tool string) *float64
}

// WithLogger sets the logger used for outcome reporting failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *registryConfig) { c.logger = l }
}

// WithQualitySignal supplies the monitorability signal for each call.
// Returning nil leaves the decision to the engine's signal source.
func WithQualitySignal(fn func(ctx context.Context, tool string) *float64) Option {
	return func(c *registryConfig) { c.quality = fn }
}
