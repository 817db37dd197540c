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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all bridge routes with the router.
//
// Description:
//
//	Registers the /v1/bridge/* endpoints on rg (typically /v1). Every
//	route gets a request ID; run and check are rate limited per client.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//	limiter - Per-client limiter for run and check. Nil disables limiting.
//
// Endpoints:
//
//	POST /v1/bridge/run - run_code
//	POST /v1/bridge/check - check_code
//	POST /v1/bridge/save - save_code
//	POST /v1/bridge/load - load_initial_code
//	POST /v1/bridge/syntax - syntax_check
//	POST /v1/bridge/lint - lint_code
//	POST /v1/bridge/typecheck - typecheck_code
//	POST /v1/bridge/analyze - analyze_code
//	POST /v1/bridge/format - format_code
//	POST /v1/bridge/fix - fix_code
//	GET  /v1/bridge/capabilities - api_capabilities
//	POST /v1/bridge/lsp/hover - lsp_hover
//	POST /v1/bridge/lsp/complete - lsp_complete
//	GET  /v1/bridge/lsp/status - lsp_status
//	GET  /v1/bridge/health - health
//	GET  /v1/bridge/ws - WebSocket call channel
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limiter *RateLimiter) {
	b := rg.Group("/bridge", RequestID())
	{
		b.POST("/run", limiter.Middleware(MethodRunCode), handlers.HandleRun)
		b.POST("/check", limiter.Middleware(MethodCheckCode), handlers.HandleCheck)
		b.POST("/save", handlers.HandleSave)
		b.POST("/load", handlers.HandleLoad)

		b.POST("/syntax", handlers.HandleCode(MethodSyntaxCheck))
		b.POST("/lint", handlers.HandleCode(MethodLintCode))
		b.POST("/typecheck", handlers.HandleCode(MethodTypecheckCode))
		b.POST("/analyze", handlers.HandleCode(MethodAnalyzeCode))
		b.POST("/format", handlers.HandleCode(MethodFormatCode))
		b.POST("/fix", handlers.HandleCode(MethodFixCode))

		b.GET("/capabilities", handlers.HandleCapabilities)
		b.GET("/health", handlers.HandleHealth)

		lspGroup := b.Group("/lsp")
		{
			lspGroup.POST("/hover", handlers.HandleLSPHover)
			lspGroup.POST("/complete", handlers.HandleLSPComplete)
			lspGroup.GET("/status", handlers.HandleLSPStatus)
		}

		b.GET("/ws", handlers.HandleWebSocket(limiter))
	}
}
