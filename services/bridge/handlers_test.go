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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pybridge/services/bridge/analysis"
	"github.com/AleutianAI/pybridge/services/bridge/sandbox"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, limiter *RateLimiter) *gin.Engine {
	t.Helper()
	svc := newTestService(t)
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc), limiter)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_InvalidBody(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/v1/bridge/run", "/v1/bridge/check", "/v1/bridge/save", "/v1/bridge/syntax", "/v1/bridge/lsp/hover"} {
		t.Run(path, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, path, "{not json")
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, CodeInvalidRequest, resp.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestHandlers_ValidationFailure(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/bridge/run", RunRequest{Code: "x = 1", Mode: "practice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeInvalidRequest, resp.Code)
	assert.Contains(t, resp.Details, "mode")
}

func TestHandlers_EchoesRequestID(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodGet, "/v1/bridge/health", nil, "X-Request-ID", "req-42")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestHandlers_Run_PolicyIsNotAnHTTPError(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/bridge/run", RunRequest{Code: "import subprocess\n"})
	require.Equal(t, http.StatusOK, w.Code)

	var res sandbox.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, sandbox.StatusError, res.Status)
	assert.Equal(t, sandbox.FaultPolicy, res.Fault)
	assert.Equal(t, "subprocess", res.BlockedModule)
	assert.NotNil(t, res.Warnings)
}

func TestHandlers_SaveLoad(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/bridge/save", SaveRequest{Exercise: "loops", Code: "for i in range(3):\n    print(i)\n"})
	require.Equal(t, http.StatusOK, w.Code)
	var saved SaveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	assert.True(t, saved.OK)

	w = doJSON(t, router, http.MethodPost, "/v1/bridge/load", LoadRequest{Exercise: "loops"})
	require.Equal(t, http.StatusOK, w.Code)
	var loaded LoadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loaded))
	assert.Equal(t, "for i in range(3):\n    print(i)\n", loaded.Code)
}

func TestHandlers_Syntax(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/bridge/syntax", CodeRequest{Code: "print(\n"})
	require.Equal(t, http.StatusOK, w.Code)

	var rep analysis.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.False(t, rep.OK)
	assert.NotEmpty(t, rep.Diagnostics)
	assert.Equal(t, analysis.CodeHash("print(\n"), rep.CodeHash)
}

func TestHandlers_LSPStatusAndHover(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodGet, "/v1/bridge/lsp/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"missing"`)

	w = doJSON(t, router, http.MethodPost, "/v1/bridge/lsp/complete", PositionRequest{Code: "x", Line: 1, Column: 2})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)
}

func TestHandlers_Health(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, http.MethodGet, "/v1/bridge/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var h HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.True(t, h.OK)
	assert.Equal(t, "test", h.Version)
}

func TestHandlers_RateLimit(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	router := newTestRouter(t, limiter)

	body := RunRequest{Code: "import os\n"}
	for i := 0; i < 2; i++ {
		w := doJSON(t, router, http.MethodPost, "/v1/bridge/run", body)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/bridge/run", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), CodeRateLimited)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// Unlimited routes are unaffected.
	w = doJSON(t, router, http.MethodPost, "/v1/bridge/syntax", CodeRequest{Code: "x = 1"})
	assert.Equal(t, http.StatusOK, w.Code)

	now = now.Add(time.Second)
	w = doJSON(t, router, http.MethodPost, "/v1/bridge/run", body)
	assert.Equal(t, http.StatusOK, w.Code, "refilled after one second")
}

// =============================================================================
// RateLimiter
// =============================================================================

func TestRateLimiter(t *testing.T) {
	t.Run("nil allows everything", func(t *testing.T) {
		var l *RateLimiter
		assert.True(t, l.Allow("x"))
		assert.Nil(t, NewRateLimiter(0, 5))
	})

	t.Run("per client buckets", func(t *testing.T) {
		l := NewRateLimiter(1, 1)
		now := time.Now()
		l.now = func() time.Time { return now }

		assert.True(t, l.Allow("a"))
		assert.False(t, l.Allow("a"))
		assert.True(t, l.Allow("b"), "other clients have their own bucket")
	})

	t.Run("prunes idle clients", func(t *testing.T) {
		l := NewRateLimiter(1, 1)
		now := time.Now()
		l.now = func() time.Time { return now }

		for i := 0; i < limiterPruneAt; i++ {
			l.Allow(string(rune('a'+i%26)) + time.Duration(i).String())
		}
		require.Len(t, l.clients, limiterPruneAt)

		now = now.Add(limiterIdle)
		l.Allow("fresh")
		assert.Len(t, l.clients, 1)
	})
}
