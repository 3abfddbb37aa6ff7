package cli

import (
	"log/slog"

	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/gatekeeper"
)

// openGatekeeper builds a local gatekeeper from the loaded config.
// Non-empty arguments override the config paths.
func openGatekeeper(policyPath, auditPath, stateDB string, source gate.Source) (*gatekeeper.Gatekeeper, error) {
	if policyPath == "" {
		policyPath = appConfig.PolicyPath
	}
	if auditPath == "" {
		auditPath = appConfig.AuditLog
	}
	if stateDB == "" {
		stateDB = appConfig.StateDB
	}
	return gatekeeper.New(gatekeeper.Options{
		PolicyPath: policyPath,
		AuditPath:  auditPath,
		StateDB:    stateDB,
		Source:     source,
		Logger:     slog.Default(),
	})
}

// metricsSource loads estimator metrics from path. A nil source means the
// caller must supply a quality signal for every gated call.
func metricsSource(path string) (*gate.MetricsSource, error) {
	if path == "" {
		return nil, nil
	}
	src := gate.NewMetricsSource()
	if err := src.LoadFile(path); err != nil {
		return nil, err
	}
	return src, nil
}
