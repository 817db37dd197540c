// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDKey stores the request ID in the gin context.
const requestIDKey = "request_id"

// Handlers holds the HTTP handlers for the bridge API.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers backed by svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// =============================================================================
// Execution
// =============================================================================

// HandleRun handles POST /v1/bridge/run.
//
// Description:
//
//	Runs code in the sandbox. User and tool faults are 200 responses with
//	a structured result; only a malformed body is a 400.
//
// Request Body:
//
//	RunRequest - code, mode (study|exam, default study)
//
// Response:
//
//	200 OK: sandbox.Result
//	400 Bad Request: ErrorResponse
func (h *Handlers) HandleRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRun")

	var req RunRequest
	if !bindRequest(c, logger, &req) {
		return
	}

	res := h.svc.RunCode(c.Request.Context(), req.Code, req.ParsedMode())
	logger.Info("Run finished",
		"status", res.Status,
		"fault", res.Fault,
		"duration_ms", res.DurationMs)
	c.JSON(http.StatusOK, res)
}

// HandleCheck handles POST /v1/bridge/check.
//
// Request Body:
//
//	CheckRequest - code, mode, exercise {setup, checks, acceptedVars}
//
// Response:
//
//	200 OK: sandbox.Result with status ok|fail|error|timeout
//	400 Bad Request: ErrorResponse
func (h *Handlers) HandleCheck(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCheck")

	var req CheckRequest
	if !bindRequest(c, logger, &req) {
		return
	}

	res := h.svc.CheckCode(c.Request.Context(), req.Code, req.ParsedMode(), req.Exercise)
	logger.Info("Check finished",
		"status", res.Status,
		"fault", res.Fault,
		"duration_ms", res.DurationMs)
	c.JSON(http.StatusOK, res)
}

// =============================================================================
// Drafts
// =============================================================================

// HandleSave handles POST /v1/bridge/save.
func (h *Handlers) HandleSave(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSave")

	var req SaveRequest
	if !bindRequest(c, logger, &req) {
		return
	}

	resp := h.svc.SaveCode(c.Request.Context(), req.Exercise, req.Code)
	logger.Debug("Draft saved", "exercise", resp.Exercise, "ok", resp.OK)
	c.JSON(http.StatusOK, resp)
}

// HandleLoad handles POST /v1/bridge/load.
func (h *Handlers) HandleLoad(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoad")

	var req LoadRequest
	if !bindRequest(c, logger, &req) {
		return
	}

	c.JSON(http.StatusOK, h.svc.LoadInitialCode(c.Request.Context(), req.Exercise, req.Starter))
}

// =============================================================================
// Analysis and Transforms
// =============================================================================

// HandleCode returns the handler for one of the code-only calls
// (syntax_check, lint_code, typecheck_code, analyze_code, format_code,
// fix_code).
//
// Request Body:
//
//	CodeRequest - code
//
// Response:
//
//	200 OK: analysis.Report or transform.Result
//	400 Bad Request: ErrorResponse
func (h *Handlers) HandleCode(method string) gin.HandlerFunc {
	name := "HandleCode." + method
	return func(c *gin.Context) {
		requestID := getOrCreateRequestID(c)
		logger := slog.With("request_id", requestID, "handler", name)

		var req CodeRequest
		if !bindRequest(c, logger, &req) {
			return
		}

		c.JSON(http.StatusOK, h.svc.callCode(c.Request.Context(), method, req.Code))
	}
}

// HandleCapabilities handles GET /v1/bridge/capabilities.
func (h *Handlers) HandleCapabilities(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.Capabilities(c.Request.Context()))
}

// =============================================================================
// Language Server
// =============================================================================

// HandleLSPHover handles POST /v1/bridge/lsp/hover.
func (h *Handlers) HandleLSPHover(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLSPHover")

	var req PositionRequest
	if !bindRequest(c, logger, &req) {
		return
	}

	c.JSON(http.StatusOK, h.svc.LSPHover(c.Request.Context(), req.Code, req.Line, req.Column))
}

// HandleLSPComplete handles POST /v1/bridge/lsp/complete.
func (h *Handlers) HandleLSPComplete(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLSPComplete")

	var req PositionRequest
	if !bindRequest(c, logger, &req) {
		return
	}

	c.JSON(http.StatusOK, h.svc.LSPComplete(c.Request.Context(), req.Code, req.Line, req.Column))
}

// HandleLSPStatus handles GET /v1/bridge/lsp/status.
func (h *Handlers) HandleLSPStatus(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.LSPStatus(c.Request.Context()))
}

// HandleHealth handles GET /v1/bridge/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.Health(c.Request.Context()))
}

// =============================================================================
// Helpers
// =============================================================================

// bindRequest decodes and validates the JSON body, writing a 400 on
// failure.
func bindRequest(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  CodeInvalidRequest,
		})
		return false
	}
	if err := validateRequest(req); err != nil {
		logger.Warn("Request failed validation", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return false
	}
	return true
}

// getOrCreateRequestID returns the request ID assigned by RequestID, the
// caller's X-Request-ID, or a new UUID, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	c.Set(requestIDKey, requestID)
	return requestID
}
