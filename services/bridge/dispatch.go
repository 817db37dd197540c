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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Call invokes a method by name with JSON params.
//
// Description:
//
//	Shared by the WebSocket channel and the `pybridge call` command. Method
//	names are the call-surface names (run_code, lsp_hover, ...). Empty or
//	null params decode as the zero request.
//
// Outputs:
//
//	any - The method result, JSON-encodable
//	error - ErrUnknownMethod or ErrInvalidParams; never a tool or user fault
func (s *Service) Call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodRunCode:
		var req RunRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.RunCode(ctx, req.Code, req.ParsedMode()), nil

	case MethodCheckCode:
		var req CheckRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.CheckCode(ctx, req.Code, req.ParsedMode(), req.Exercise), nil

	case MethodSaveCode:
		var req SaveRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.SaveCode(ctx, req.Exercise, req.Code), nil

	case MethodLoadInitialCode:
		var req LoadRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.LoadInitialCode(ctx, req.Exercise, req.Starter), nil

	case MethodSyntaxCheck, MethodLintCode, MethodTypecheckCode, MethodAnalyzeCode,
		MethodFormatCode, MethodFixCode:
		var req CodeRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.callCode(ctx, method, req.Code), nil

	case MethodLSPHover:
		var req PositionRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.LSPHover(ctx, req.Code, req.Line, req.Column), nil

	case MethodLSPComplete:
		var req PositionRequest
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return s.LSPComplete(ctx, req.Code, req.Line, req.Column), nil

	case MethodCapabilities:
		return s.Capabilities(ctx), nil
	case MethodLSPStatus:
		return s.LSPStatus(ctx), nil
	case MethodHealth:
		return s.Health(ctx), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

func (s *Service) callCode(ctx context.Context, method, code string) any {
	switch method {
	case MethodSyntaxCheck:
		return s.SyntaxCheck(ctx, code)
	case MethodLintCode:
		return s.LintCode(ctx, code)
	case MethodTypecheckCode:
		return s.TypecheckCode(ctx, code)
	case MethodAnalyzeCode:
		return s.AnalyzeCode(ctx, code)
	case MethodFormatCode:
		return s.FormatCode(ctx, code)
	default:
		return s.FixCode(ctx, code)
	}
}

// decodeParams unmarshals and validates params into req.
func decodeParams(params json.RawMessage, req any) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, req); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	return validateRequest(req)
}
