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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, limiter *RateLimiter) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(newTestRouter(t, limiter))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/bridge/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	var resp map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestWebSocket_Health(t *testing.T) {
	conn := dialWS(t, nil)

	resp := roundTrip(t, conn, `{"id":1,"method":"health"}`)
	assert.JSONEq(t, `1`, string(resp["id"]))
	assert.NotContains(t, resp, "error")

	var h HealthResponse
	require.NoError(t, json.Unmarshal(resp["result"], &h))
	assert.True(t, h.OK)
}

func TestWebSocket_Errors(t *testing.T) {
	conn := dialWS(t, nil)

	resp := roundTrip(t, conn, `{"id":"a","method":"drop_tables"}`)
	assert.JSONEq(t, `"a"`, string(resp["id"]))
	assert.Contains(t, string(resp["error"]), CodeUnknownMethod)

	resp = roundTrip(t, conn, `{"id":2,"method":"run_code","params":{"mode":"quiz"}}`)
	assert.Contains(t, string(resp["error"]), CodeInvalidRequest)

	resp = roundTrip(t, conn, `not json`)
	assert.JSONEq(t, `null`, string(resp["id"]))
	assert.Contains(t, string(resp["error"]), CodeInvalidRequest)

	// The connection survives bad messages.
	resp = roundTrip(t, conn, `{"id":3,"method":"lsp_status"}`)
	assert.Contains(t, string(resp["result"]), `"missing"`)
}

func TestWebSocket_SaveLoad(t *testing.T) {
	conn := dialWS(t, nil)

	resp := roundTrip(t, conn, `{"id":1,"method":"save_code","params":{"exercise":"ws","code":"y = 2\n"}}`)
	assert.Contains(t, string(resp["result"]), `"ok":true`)

	resp = roundTrip(t, conn, `{"id":2,"method":"load_initial_code","params":{"exercise":"ws"}}`)
	var loaded LoadResponse
	require.NoError(t, json.Unmarshal(resp["result"], &loaded))
	assert.Equal(t, "y = 2\n", loaded.Code)
}

func TestWebSocket_ConcurrentCalls(t *testing.T) {
	conn := dialWS(t, nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	const n = 8
	for i := 0; i < n; i++ {
		msg := `{"id":` + string(rune('0'+i)) + `,"method":"syntax_check","params":{"code":"x = 1"}}`
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		assert.Nil(t, resp.Error)
		seen[string(resp.ID)] = true
	}
	assert.Len(t, seen, n, "every id answered once")
}

func TestWebSocket_RateLimit(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	conn := dialWS(t, limiter)

	resp := roundTrip(t, conn, `{"id":1,"method":"run_code","params":{"code":"import os"}}`)
	assert.NotContains(t, resp, "error")

	resp = roundTrip(t, conn, `{"id":2,"method":"run_code","params":{"code":"import os"}}`)
	assert.Contains(t, string(resp["error"]), CodeRateLimited)
}

func TestAllowLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"null", true},
		{"file://", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:8765", true},
		{"http://[::1]:3000", true},
		{"https://evil.example", false},
		{"http://192.168.1.5", false},
		{"::bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/bridge/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, allowLocalOrigin(r))
		})
	}
}
