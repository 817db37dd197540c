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
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/pybridge/services/bridge/capability"
	"github.com/AleutianAI/pybridge/services/bridge/grader"
	"github.com/AleutianAI/pybridge/services/bridge/sandbox"
)

// =============================================================================
// Method Names
// =============================================================================

// Method names shared by the WebSocket channel and the CLI.
const (
	MethodRunCode         = "run_code"
	MethodCheckCode       = "check_code"
	MethodSaveCode        = "save_code"
	MethodLoadInitialCode = "load_initial_code"
	MethodSyntaxCheck     = "syntax_check"
	MethodLintCode        = "lint_code"
	MethodTypecheckCode   = "typecheck_code"
	MethodAnalyzeCode     = "analyze_code"
	MethodFormatCode      = "format_code"
	MethodFixCode         = "fix_code"
	MethodCapabilities    = "api_capabilities"
	MethodLSPHover        = "lsp_hover"
	MethodLSPComplete     = "lsp_complete"
	MethodLSPStatus       = "lsp_status"
	MethodHealth          = "health"
)

// Methods lists every callable method in call-surface order.
var Methods = []string{
	MethodRunCode, MethodCheckCode, MethodSaveCode, MethodLoadInitialCode,
	MethodSyntaxCheck, MethodLintCode, MethodTypecheckCode, MethodAnalyzeCode,
	MethodFormatCode, MethodFixCode, MethodCapabilities,
	MethodLSPHover, MethodLSPComplete, MethodLSPStatus, MethodHealth,
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownMethod is returned by Call for a method not in Methods.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrInvalidParams is returned when params fail to decode or validate.
	ErrInvalidParams = errors.New("invalid params")
)

// Error codes carried in ErrorResponse.Code and WebSocket errors.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnknownMethod  = "UNKNOWN_METHOD"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx HTTP response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// Requests
// =============================================================================

// MaxCodeChars bounds the code field of every request, in characters.
const MaxCodeChars = 1 << 20

// RunRequest is the body of run_code.
type RunRequest struct {
	Code string `json:"code" validate:"max=1048576"`
	Mode string `json:"mode" validate:"bridgemode"`
}

// CheckRequest is the body of check_code.
type CheckRequest struct {
	Code     string           `json:"code" validate:"max=1048576"`
	Mode     string           `json:"mode" validate:"bridgemode"`
	Exercise *grader.Exercise `json:"exercise"`
}

// SaveRequest is the body of save_code.
type SaveRequest struct {
	Code     string `json:"code" validate:"max=1048576"`
	Exercise string `json:"exercise" validate:"max=256"`
}

// LoadRequest is the body of load_initial_code.
type LoadRequest struct {
	Exercise string `json:"exercise" validate:"max=256"`
	Starter  string `json:"starter" validate:"max=1048576"`
}

// CodeRequest is the body of the analysis and transform calls.
type CodeRequest struct {
	Code string `json:"code" validate:"max=1048576"`
}

// PositionRequest is the body of lsp_hover and lsp_complete. Line and
// column are 1-based; out-of-range positions yield empty results.
type PositionRequest struct {
	Code   string `json:"code" validate:"max=1048576"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// ParsedMode returns the sandbox mode; validation guarantees it parses.
func (r RunRequest) ParsedMode() sandbox.Mode {
	m, _ := sandbox.ParseMode(r.Mode)
	return m
}

// ParsedMode returns the sandbox mode; validation guarantees it parses.
func (r CheckRequest) ParsedMode() sandbox.Mode {
	m, _ := sandbox.ParseMode(r.Mode)
	return m
}

// =============================================================================
// Responses
// =============================================================================

// SaveResponse is the result of save_code.
type SaveResponse struct {
	OK        bool      `json:"ok"`
	Exercise  string    `json:"exercise,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// LoadResponse is the result of load_initial_code.
type LoadResponse struct {
	OK       bool   `json:"ok"`
	Exercise string `json:"exercise"`
	Code     string `json:"code"`
	Error    string `json:"error,omitempty"`
}

// CapabilitiesResponse is the result of api_capabilities.
type CapabilitiesResponse struct {
	OK bool `json:"ok"`
	capability.Map
}

// HealthResponse is the result of health.
type HealthResponse struct {
	OK            bool    `json:"ok"`
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	LSPEnabled    bool    `json:"lspEnabled"`
	DraftsInMem   bool    `json:"draftsInMemory"`
}

// =============================================================================
// Validation
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.RegisterValidation("bridgemode", func(fl validator.FieldLevel) bool {
		_, err := sandbox.ParseMode(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(fmt.Sprintf("register bridgemode validation: %v", err))
	}
}

// validateRequest checks struct tags and wraps failures in ErrInvalidParams.
func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "bridgemode":
			parts = append(parts, fmt.Sprintf("%s must be 'study' or 'exam'", fe.Field()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
