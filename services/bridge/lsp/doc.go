// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp answers hover and completion requests for an editor buffer
// by talking to pyright-langserver over stdio.
//
// # Architecture
//
//	Adapter        - Hover, Complete and Status on raw buffers
//	  └─ Manager   - lazily spawns one server per workspace, restarts
//	                 crashed servers, stops idle ones
//	       └─ Server    - process lifecycle and initialize handshake
//	            └─ Protocol - JSON-RPC framing; answers server-to-client
//	                          requests with neutral results
//
// # Positions
//
// Callers pass 1-based lines and 1-based UTF-16 columns, as editors report
// them. Positions outside the buffer return an empty result without
// contacting the server.
//
// # Documents
//
// Every call opens a uniquely named virtual document
// (buffer-<uuid>.py in the workspace), issues one request and closes it,
// so concurrent calls never see each other's text.
//
// # Degradation
//
// When pyright-langserver is not installed, results carry ok=false and a
// message; nothing returns an error to the transport layer.
package lsp
