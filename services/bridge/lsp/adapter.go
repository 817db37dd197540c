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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/AleutianAI/pybridge/services/bridge/analysis"
	"github.com/AleutianAI/pybridge/services/bridge/capability"
)

// =============================================================================
// RESPONSES
// =============================================================================

// HoverResponse is the result of a hover call.
type HoverResponse struct {
	OK        bool                     `json:"ok"`
	Contents  string                   `json:"contents"`
	Message   string                   `json:"message,omitempty"`
	Available map[capability.Role]bool `json:"available"`
	CodeHash  string                   `json:"codeHash"`
}

// CompletionItem is one completion suggestion, flattened for editors.
type CompletionItem struct {
	Label         string `json:"label"`
	Kind          int    `json:"kind"`
	KindName      string `json:"kindName"`
	Detail        string `json:"detail"`
	Documentation string `json:"documentation"`
	InsertText    string `json:"insertText"`
}

// CompleteResponse is the result of a completion call. Items is never nil.
type CompleteResponse struct {
	OK        bool                     `json:"ok"`
	Items     []CompletionItem         `json:"items"`
	Message   string                   `json:"message,omitempty"`
	Available map[capability.Role]bool `json:"available"`
	CodeHash  string                   `json:"codeHash"`
}

// Status values reported by Adapter.Status.
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
	StatusError   = "error"
)

// StatusResponse reports whether the language server can serve requests.
type StatusResponse struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Version string `json:"version"`
	Message string `json:"message"`
}

// MaxCompletionItems caps the items returned by Complete.
const MaxCompletionItems = 100

// kindNames maps LSP CompletionItemKind values (1-based) to names.
var kindNames = []string{
	"text", "method", "function", "constructor", "field", "variable",
	"class", "interface", "module", "property", "unit", "value", "enum",
	"keyword", "snippet", "color", "file", "reference", "folder",
	"enumMember", "constant", "struct", "event", "operator", "typeParameter",
}

// KindName returns the name of an LSP completion kind. Unknown kinds are
// reported as "text".
func KindName(kind int) string {
	if kind < 1 || kind > len(kindNames) {
		return kindNames[0]
	}
	return kindNames[kind-1]
}

// =============================================================================
// ADAPTER
// =============================================================================

const (
	// maxRetries is the number of respawn-and-retry attempts after the
	// server crashed or stopped mid-call.
	maxRetries = 1

	// retryDelay is the delay before the retry.
	retryDelay = 100 * time.Millisecond
)

// Adapter answers hover and completion calls for editor buffers.
//
// Description:
//
//	Each call opens a uniquely named virtual document holding the buffer,
//	issues one request and closes the document, so concurrent calls never
//	see each other's text. Positions are 1-based with UTF-16 columns.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Adapter struct {
	manager *Manager
	prober  *capability.Prober
}

// NewAdapter creates an adapter. prober may be nil, in which case
// responses carry an empty availability map.
func NewAdapter(manager *Manager, prober *capability.Prober) *Adapter {
	return &Adapter{manager: manager, prober: prober}
}

// Manager returns the underlying manager.
func (a *Adapter) Manager() *Manager {
	return a.manager
}

// Hover returns documentation for the symbol at line/col.
//
// Description:
//
//	Positions outside the buffer return an empty successful response
//	without contacting the server. Markdown contents are flattened to text.
//
// Inputs:
//
//	ctx - Context for cancellation
//	code - Buffer text
//	line - 1-based line
//	col - 1-based UTF-16 column
//
// Outputs:
//
//	HoverResponse - OK is false only when the server is missing or failed
func (a *Adapter) Hover(ctx context.Context, code string, line, col int) HoverResponse {
	ctx, span := startOperationSpan(ctx, "Hover")
	defer span.End()
	start := time.Now()

	resp := HoverResponse{OK: true, Available: a.available(ctx), CodeHash: analysis.CodeHash(code)}

	pos, err := ToPosition(code, line, col)
	if err != nil {
		setOperationSpanResult(span, 0, true)
		recordOperationMetrics(ctx, "hover", time.Since(start), 0, outcomeOutOfRange)
		return resp
	}

	raw, err := a.request(ctx, code, "textDocument/hover", pos, (*ServerCapabilities).HasHoverProvider)
	if err != nil {
		resp.OK = false
		resp.Message = a.failureMessage(err)
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "hover", time.Since(start), 0, outcomeFor(err))
		return resp
	}

	if len(raw) > 0 && string(raw) != "null" {
		var result HoverResult
		if err := json.Unmarshal(raw, &result); err != nil {
			resp.OK = false
			resp.Message = fmt.Sprintf("%v: %v", ErrInvalidResponse, err)
			setOperationSpanResult(span, 0, false)
			recordOperationMetrics(ctx, "hover", time.Since(start), 0, outcomeError)
			return resp
		}
		resp.Contents = FlattenMarkup(result.Contents)
	}

	n := 0
	if resp.Contents != "" {
		n = 1
	}
	setOperationSpanResult(span, n, true)
	recordOperationMetrics(ctx, "hover", time.Since(start), n, outcomeOK)
	return resp
}

// Complete returns completion suggestions at line/col.
//
// Description:
//
//	Positions outside the buffer return an empty successful response
//	without contacting the server. At most MaxCompletionItems server items
//	are considered; items without a label are dropped.
func (a *Adapter) Complete(ctx context.Context, code string, line, col int) CompleteResponse {
	ctx, span := startOperationSpan(ctx, "Complete")
	defer span.End()
	start := time.Now()

	resp := CompleteResponse{
		OK:        true,
		Items:     []CompletionItem{},
		Available: a.available(ctx),
		CodeHash:  analysis.CodeHash(code),
	}

	pos, err := ToPosition(code, line, col)
	if err != nil {
		setOperationSpanResult(span, 0, true)
		recordOperationMetrics(ctx, "complete", time.Since(start), 0, outcomeOutOfRange)
		return resp
	}

	raw, err := a.request(ctx, code, "textDocument/completion", pos, (*ServerCapabilities).HasCompletionProvider)
	if err != nil {
		resp.OK = false
		resp.Message = a.failureMessage(err)
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "complete", time.Since(start), 0, outcomeFor(err))
		return resp
	}

	items, err := parseCompletion(raw)
	if err != nil {
		resp.OK = false
		resp.Message = err.Error()
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "complete", time.Since(start), 0, outcomeError)
		return resp
	}
	resp.Items = mapCompletionItems(items)

	setOperationSpanResult(span, len(resp.Items), true)
	recordOperationMetrics(ctx, "complete", time.Since(start), len(resp.Items), outcomeOK)
	return resp
}

// Status reports whether the language server is installed and starts.
//
// Description:
//
//	Spawns the server if it is not running, the same way the first hover
//	or completion call would.
func (a *Adapter) Status(ctx context.Context) StatusResponse {
	var version string
	if a.prober != nil {
		version = a.prober.Last(ctx).Versions[capability.RoleLSP]
	}

	name := a.manager.Name()
	if !a.manager.IsAvailable() {
		return StatusResponse{
			Status:  StatusMissing,
			Version: version,
			Message: name + " is not installed",
		}
	}

	srv, err := a.manager.GetOrSpawn(ctx)
	if err != nil {
		if errors.Is(err, ErrServerNotInstalled) {
			return StatusResponse{Status: StatusMissing, Version: version, Message: name + " is not installed"}
		}
		return StatusResponse{Status: StatusError, Version: version, Message: err.Error()}
	}
	if version == "" {
		version = srv.Version()
	}
	return StatusResponse{OK: true, Status: StatusOK, Version: version, Message: name + " is ready"}
}

// =============================================================================
// REQUESTS
// =============================================================================

// request runs method against a fresh virtual document holding code.
// A nil result with nil error means the server does not offer the method.
func (a *Adapter) request(
	ctx context.Context,
	code, method string,
	pos Position,
	supports func(*ServerCapabilities) bool,
) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("Retrying LSP request after server failure",
				slog.String("method", method),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		srv, err := a.manager.GetOrSpawn(ctx)
		if err != nil {
			lastErr = err
			if isRetryableError(err) {
				continue
			}
			return nil, err
		}

		caps := srv.Capabilities()
		if !supports(&caps) {
			return nil, nil
		}

		result, err := a.withDocument(ctx, srv, code, method, pos)
		if err == nil {
			return result, nil
		}
		lastErr = err
		// A write to a dead server fails before it is marked crashed, so
		// the server state decides as well as the error.
		if !isRetryableError(err) && srv.State() == ServerStateReady {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// withDocument opens a virtual document, sends one request and closes it.
func (a *Adapter) withDocument(ctx context.Context, srv *Server, code, method string, pos Position) (json.RawMessage, error) {
	uri := pathToURI(filepath.Join(srv.RootPath(), "buffer-"+uuid.NewString()+".py"))

	err := srv.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: "python", Version: 1, Text: code},
	})
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer func() {
		_ = srv.Notify("textDocument/didClose", DidCloseTextDocumentParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
		})
	}()

	reqCtx, cancel := context.WithTimeout(ctx, a.manager.Config().RequestTimeout)
	defer cancel()

	resp, err := srv.Request(reqCtx, method, TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	})
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	return resp.Result, nil
}

func (a *Adapter) failureMessage(err error) string {
	if errors.Is(err, ErrServerNotInstalled) {
		if a.prober != nil {
			a.prober.Invalidate(capability.RoleLSP)
		}
		return a.manager.Name() + " is not installed"
	}
	slog.Warn("LSP request failed",
		slog.String("server", a.manager.Name()),
		slog.String("error", err.Error()))
	return err.Error()
}

func (a *Adapter) available(ctx context.Context) map[capability.Role]bool {
	if a.prober == nil {
		return map[capability.Role]bool{}
	}
	return a.prober.Last(ctx).Available
}

// isRetryableError returns true if the error is transient and worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServerCrashed) || errors.Is(err, ErrServerNotRunning) {
		return true
	}
	var lspErr *LSPError
	if errors.As(err, &lspErr) {
		return lspErr.IsServerError()
	}
	return false
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// ToPosition converts a 1-based line and UTF-16 column into an LSP
// position.
//
// Errors:
//
//	ErrPositionOutOfRange - line < 1, col < 1, line past the last line,
//	or col past end of line + 1
func ToPosition(code string, line, col int) (Position, error) {
	lines := strings.Split(code, "\n")
	if line < 1 || line > len(lines) || col < 1 {
		return Position{}, fmt.Errorf("%w: %d:%d", ErrPositionOutOfRange, line, col)
	}
	text := strings.TrimSuffix(lines[line-1], "\r")
	if col > utf16Len(text)+1 {
		return Position{}, fmt.Errorf("%w: %d:%d", ErrPositionOutOfRange, line, col)
	}
	return Position{Line: line - 1, Character: col - 1}, nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// FlattenMarkup converts hover or documentation payloads to plain text.
//
// Description:
//
//	Accepts a plain string, a MarkupContent or MarkedString object, or a
//	list of either. List entries are joined with newlines.
func FlattenMarkup(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err == nil {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				if text := FlattenMarkup(item); text != "" {
					parts = append(parts, text)
				}
			}
			return strings.Join(parts, "\n")
		}
	case '{':
		var mc MarkupContent
		if err := json.Unmarshal(raw, &mc); err == nil {
			return strings.TrimSpace(mc.Value)
		}
	}
	return ""
}

// parseCompletion accepts both CompletionItem[] and CompletionList results.
func parseCompletion(raw json.RawMessage) ([]rawCompletionItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	if raw[0] == '[' {
		var items []rawCompletionItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return items, nil
	}

	var list CompletionList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return list.Items, nil
}

func mapCompletionItems(items []rawCompletionItem) []CompletionItem {
	if len(items) > MaxCompletionItems {
		items = items[:MaxCompletionItems]
	}

	out := make([]CompletionItem, 0, len(items))
	for _, item := range items {
		label := strings.TrimSpace(item.Label)
		if label == "" {
			continue
		}
		kind := item.Kind
		if kind <= 0 {
			kind = 1
		}
		insert := strings.TrimSpace(item.InsertText)
		if insert == "" {
			insert = label
		}
		out = append(out, CompletionItem{
			Label:         label,
			Kind:          kind,
			KindName:      KindName(kind),
			Detail:        strings.TrimSpace(item.Detail),
			Documentation: FlattenMarkup(item.Documentation),
			InsertText:    insert,
		})
	}
	return out
}

// pathToURI converts a file path to a file:// URI.
func pathToURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	path = filepath.ToSlash(path)
	if !strings.HasPrefix(path, "/") {
		// Windows drive paths.
		path = "/" + path
	}
	u := &url.URL{Scheme: "file", Path: path}
	return u.String()
}
