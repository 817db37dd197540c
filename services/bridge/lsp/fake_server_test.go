// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

const (
	// fakeServerEnv makes the test binary act as a language server.
	fakeServerEnv = "PYBRIDGE_LSP_FAKE_SERVER"

	// fakeCrashEnv names a marker file; while it exists the fake server
	// exits on the next hover request and removes the marker.
	fakeCrashEnv = "PYBRIDGE_LSP_FAKE_CRASH"

	fakeConfigRequestID = 9001
	fakeCompletionCount = 150
)

func TestMain(m *testing.M) {
	if os.Getenv(fakeServerEnv) != "" {
		os.Exit(runFakeServer())
	}
	goleak.VerifyTestMain(m)
}

// runFakeServer serves hover and completion over stdio.
//
// Hover answers with the identifier under the cursor, read from the
// document the request names, followed by "configured" once the client
// answered the workspace/configuration request.
func runFakeServer() int {
	p := NewProtocol(os.Stdin, os.Stdout, nil)
	docs := make(map[string]string)
	configured := false

	respond := func(id json.RawMessage, result interface{}) {
		_ = p.writeMessage(reply{JSONRPC: JSONRPCVersion, ID: id, Result: result})
	}

	for {
		msg, err := p.readMessage()
		if err != nil {
			return 0
		}
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			return 2
		}

		switch env.Method {
		case "":
			if string(env.ID) == fmt.Sprint(fakeConfigRequestID) {
				var items []interface{}
				if json.Unmarshal(env.Result, &items) == nil && len(items) == 2 && items[0] == nil {
					configured = true
				}
			}

		case "initialize":
			_ = p.writeMessage(Request{
				JSONRPC: JSONRPCVersion,
				ID:      fakeConfigRequestID,
				Method:  "workspace/configuration",
				Params: map[string]interface{}{
					"items": []map[string]string{{"section": "python"}, {"section": "python.analysis"}},
				},
			})
			respond(env.ID, map[string]interface{}{
				"capabilities": map[string]interface{}{
					"hoverProvider":      true,
					"completionProvider": map[string]interface{}{},
				},
				"serverInfo": map[string]string{"name": "fake", "version": "1.2.3"},
			})

		case "textDocument/didOpen":
			var params DidOpenTextDocumentParams
			_ = json.Unmarshal(env.Params, &params)
			docs[params.TextDocument.URI] = params.TextDocument.Text

		case "textDocument/didClose":
			var params DidCloseTextDocumentParams
			_ = json.Unmarshal(env.Params, &params)
			delete(docs, params.TextDocument.URI)

		case "textDocument/hover":
			if marker := os.Getenv(fakeCrashEnv); marker != "" {
				if _, err := os.Stat(marker); err == nil {
					_ = os.Remove(marker)
					return 3
				}
			}
			var params TextDocumentPositionParams
			_ = json.Unmarshal(env.Params, &params)
			text, ok := docs[params.TextDocument.URI]
			if !ok {
				_ = p.writeMessage(errorReply{
					JSONRPC: JSONRPCVersion,
					ID:      env.ID,
					Error:   &ResponseError{Code: -32602, Message: "document not open"},
				})
				continue
			}
			contents := []interface{}{
				map[string]string{"language": "python", "value": wordAt(text, params.Position)},
			}
			if configured {
				contents = append(contents, "configured")
			}
			respond(env.ID, map[string]interface{}{"contents": contents})

		case "textDocument/completion":
			items := make([]map[string]interface{}, 0, fakeCompletionCount)
			for i := 0; i < fakeCompletionCount; i++ {
				item := map[string]interface{}{"label": fmt.Sprintf("item%03d", i), "kind": i % 30}
				if i == 0 {
					item["label"] = ""
				}
				if i%2 == 0 {
					item["documentation"] = map[string]string{"kind": "markdown", "value": " doc "}
					item["insertText"] = fmt.Sprintf("item%03d()", i)
				}
				items = append(items, item)
			}
			respond(env.ID, map[string]interface{}{"isIncomplete": false, "items": items})

		case "shutdown":
			respond(env.ID, nil)

		case "exit":
			return 0

		default:
			if len(env.ID) > 0 {
				_ = p.writeMessage(errorReply{
					JSONRPC: JSONRPCVersion,
					ID:      env.ID,
					Error:   &ResponseError{Code: codeMethodNotFound, Message: "method not found"},
				})
			}
		}
	}
}

// wordAt returns the identifier touching pos. ASCII only.
func wordAt(text string, pos Position) string {
	lines := strings.Split(text, "\n")
	if pos.Line >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	isIdent := func(c byte) bool {
		return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
	}
	start, end := pos.Character, pos.Character
	if start > len(line) {
		return ""
	}
	for start > 0 && isIdent(line[start-1]) {
		start--
	}
	for end < len(line) && isIdent(line[end]) {
		end++
	}
	return line[start:end]
}
