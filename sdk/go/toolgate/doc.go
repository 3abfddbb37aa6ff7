// Package toolgate is the tool-execution boundary for Go agent loops. It
// asks the policy engine before every tool call, runs the tool only on
// ALLOW, and reports the real outcome back to the audit log exactly once.
//
// Usage:
//
//	gk, err := toolgate.Embedded(toolgate.EmbeddedOptions{AuditPath: "audit.jsonl"})
//	reg := toolgate.New(gk)
//	reg.Register("read_file", readFile)
//	out, err := reg.Call(ctx, "read_file", json.RawMessage(`{"path":"notes.txt"}`))
//	if errors.Is(err, toolgate.ErrEmergencyActive) { ... }
//
// Against a running policy server, use Dial instead of Embedded. The SDK
// links against internal packages, so in-process evaluation costs no
// subprocess or network hop.
package toolgate
