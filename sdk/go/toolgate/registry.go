package toolgate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ppiankov/toolgate/internal/policy"
)

// Registry holds named tools and guards every call through an Evaluator.
// Safe for concurrent use.
type Registry struct {
	ev  Evaluator
	cfg registryConfig

	mu    sync.RWMutex
	tools map[string]ToolFunc
}

// New creates an empty Registry backed by ev.
func New(ev Evaluator, opts ...Option) *Registry {
	cfg := registryConfig{logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	return &Registry{ev: ev, cfg: cfg, tools: make(map[string]ToolFunc)}
}

// Register adds a tool under name. Names are unique.
func (r *Registry) Register(name string, fn ToolFunc) error {
	if name == "" {
		return fmt.Errorf("toolgate: tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("toolgate: tool %q has no function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("toolgate: tool %q already registered", name)
	}
	r.tools[name] = r.Wrap(name, fn)
	return nil
}

// Names lists registered tools in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call runs a registered tool through the gate.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	fn, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return fn(ctx, args)
}

// Wrap returns a ToolFunc that evaluates before calling fn. A DENY comes
// back as a *DeniedError and fn never runs. After an ALLOW the outcome is
// reported exactly once, including when fn panics.
func (r *Registry) Wrap(name string, fn ToolFunc) ToolFunc {
	return func(ctx context.Context, args json.RawMessage) (result any, err error) {
		req := Request{Tool: name, Args: args}
		if r.cfg.quality != nil {
			req.Quality = r.cfg.quality(ctx, name)
		}

		d, evalErr := r.ev.Evaluate(ctx, req)
		if evalErr != nil {
			return nil, fmt.Errorf("toolgate: evaluate %s: %w", name, evalErr)
		}
		if denied := policy.Denied(d); denied != nil {
			return nil, denied
		}

		defer func() {
			if p := recover(); p != nil {
				r.report(d, false, fmt.Sprintf("panic: %v", p))
				panic(p)
			}
		}()

		result, err = fn(ctx, args)
		if err != nil {
			r.report(d, false, err.Error())
			return result, err
		}
		r.report(d, true, "")
		return result, nil
	}
}

// report never changes what the caller sees: the tool already ran.
func (r *Registry) report(d Decision, executed bool, errText string) {
	if err := r.ev.ReportOutcome(d.ID, executed, errText); err != nil {
		r.cfg.logger.Error("tool outcome not recorded",
			"tool", d.Tool, "decision_id", d.ID, "executed", executed, "error", err)
	}
}
