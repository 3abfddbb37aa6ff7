package alert

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Default burst limits for outbound webhooks.
const (
	DefaultRate  = 5 // events per second
	DefaultBurst = 20

	// sendDeadline bounds one delivery including retries.
	sendDeadline = 30 * time.Second
)

// Dispatcher fans out alert events to matching webhook configurations.
// Sends are rate limited; events over the limit are dropped and counted.
type Dispatcher struct {
	configs []AlertConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []AlertConfig, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		configs: configs,
		limiter: rate.NewLimiter(rate.Limit(DefaultRate), DefaultBurst),
		logger:  logger,
	}
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Matching is on event.Type or event.Stage. Fires goroutines and does
// not block the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		if !d.limiter.Allow() {
			d.dropped.Add(1)
			d.logger.Warn("alert dropped by rate limit", "type", event.Type, "url", cfg.URL)
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendDeadline)
			defer cancel()
			if err := Send(ctx, cfg, event); err != nil {
				d.logger.Warn("alert delivery failed", "type", event.Type, "url", cfg.URL, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until in-flight sends finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Dropped returns how many sends were skipped by the rate limiter.
func (d *Dispatcher) Dropped() int64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Type {
			return true
		}
		if event.Stage != "" && e == string(event.Stage) {
			return true
		}
	}
	return false
}
