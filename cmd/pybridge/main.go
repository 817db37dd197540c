// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pybridge runs the Python learning bridge.
//
// The bridge executes learner code in a sandbox and runs static analysis
// (syntax, ruff, pyright), formatting, fixes and language-server hover and
// completion against it.
//
// Usage:
//
//	pybridge serve                      # HTTP + WebSocket on 127.0.0.1:8765
//	pybridge call run_code < main.py    # one call, JSON result on stdout
//	pybridge call lsp_hover --code-file main.py --line 3 --column 5
//	pybridge probe                      # which tools are installed
//	pybridge config init                # write the default config file
//	pybridge version
//
// Example requests:
//
//	curl http://127.0.0.1:8765/v1/bridge/health
//
//	curl -X POST http://127.0.0.1:8765/v1/bridge/run \
//	  -H "Content-Type: application/json" \
//	  -d '{"code": "print(1 + 1)", "mode": "study"}'
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
