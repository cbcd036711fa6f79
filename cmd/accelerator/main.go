// excel-accelerator answers natural-language questions about a spreadsheet.
//
// A question is classified, planned against the table's columns, turned into
// a small expression, run in a sandbox, and explained back together with the
// equivalent Excel formula.
//
// Commands:
//   - serve: HTTP API plus websocket progress events
//   - chat: interactive terminal session over one file
//   - init-config: write the default config file
//   - version
package main

import (
	"os"
)

const version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
