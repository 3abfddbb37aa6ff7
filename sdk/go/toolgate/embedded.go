package toolgate

import (
	"log/slog"

	"github.com/ppiankov/toolgate/internal/gatekeeper"
)

// Gatekeeper is the in-process policy runtime returned by Embedded.
type Gatekeeper = gatekeeper.Gatekeeper

// EmbeddedOptions configures an in-process gatekeeper.
type EmbeddedOptions struct {
	// PolicyPath defaults to ~/.toolgate/policy.yaml; a missing file means
	// the built-in policy.
	PolicyPath string
	// AuditPath is required.
	AuditPath string
	// StateDB persists grants and safety flags; empty keeps them in memory.
	StateDB string
	Logger  *slog.Logger
}

// Embedded opens a gatekeeper in this process. Close it when done.
func Embedded(opts EmbeddedOptions) (*Gatekeeper, error) {
	return gatekeeper.New(gatekeeper.Options{
		PolicyPath: opts.PolicyPath,
		AuditPath:  opts.AuditPath,
		StateDB:    opts.StateDB,
		Logger:     opts.Logger,
	})
}
