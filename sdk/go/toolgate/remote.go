package toolgate

import (
	"context"
	"time"

	"github.com/ppiankov/toolgate/internal/client"
)

// Remote evaluates against a running toolgate policy server. An
// unreachable server yields a DENY with ErrServerUnreachable, never an
// ALLOW.
type Remote struct {
	c *client.Client
}

// RemoteOption configures Dial.
type RemoteOption func(*[]client.Option)

// WithTimeout bounds every RPC to the policy server.
func WithTimeout(d time.Duration) RemoteOption {
	return func(o *[]client.Option) { *o = append(*o, client.WithTimeout(d)) }
}

// Dial connects to a policy server at addr. The connection is lazy.
func Dial(addr string, opts ...RemoteOption) (*Remote, error) {
	var copts []client.Option
	for _, o := range opts {
		o(&copts)
	}
	c, err := client.New(addr, copts...)
	if err != nil {
		return nil, err
	}
	return &Remote{c: c}, nil
}

func (r *Remote) Evaluate(ctx context.Context, req Request) (Decision, error) {
	return r.c.Evaluate(ctx, req.Tool, req.Args, req.Quality)
}

func (r *Remote) ReportOutcome(decisionID string, executed bool, errText string) error {
	return r.c.ReportOutcome(context.Background(), decisionID, executed, errText)
}

// Close releases the connection.
func (r *Remote) Close() error {
	return r.c.Close()
}
