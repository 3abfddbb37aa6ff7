// Package systemd renders and checks the unit file that runs the toolgate
// policy server.
package systemd

import (
	"bytes"
	"fmt"
	"text/template"
)

// UnitName is the installed unit file name.
const UnitName = "toolgate.service"

// UnitOptions parameterize the server unit.
type UnitOptions struct {
	Binary     string // absolute path to the toolgate binary
	User       string
	ConfigPath string
	StateDir   string // writable directory for audit log and state db
}

func (o UnitOptions) withDefaults() UnitOptions {
	if o.Binary == "" {
		o.Binary = "/usr/local/bin/toolgate"
	}
	if o.User == "" {
		o.User = "toolgate"
	}
	if o.StateDir == "" {
		o.StateDir = "/var/lib/toolgate"
	}
	return o
}

var serverUnit = template.Must(template.New("unit").Parse(`[Unit]
Description=toolgate policy server
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
ExecStart={{.Binary}}{{if .ConfigPath}} --config {{.ConfigPath}}{{end}} serve --audit-log {{.StateDir}}/audit.jsonl --state-db {{.StateDir}}/state.db
Restart=on-failure
RestartSec=2

# Security hardening
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ProtectKernelTunables=true
ProtectControlGroups=true
RestrictNamespaces=true
MemoryDenyWriteExecute=true
ReadWritePaths={{.StateDir}}

# Resource limits
MemoryMax=256M
TasksMax=64

[Install]
WantedBy=multi-user.target
`))

// ServerUnit returns the unit file that runs toolgate serve.
func ServerUnit(opts UnitOptions) (string, error) {
	var buf bytes.Buffer
	if err := serverUnit.Execute(&buf, opts.withDefaults()); err != nil {
		return "", fmt.Errorf("render unit: %w", err)
	}
	return buf.String(), nil
}
