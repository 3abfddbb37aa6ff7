// toolgate decides ALLOW or DENY for agent tool calls and keeps a
// hash-chained audit log of every decision and its outcome.
package main

import "github.com/ppiankov/toolgate/internal/cli"

func main() {
	cli.Execute()
}
