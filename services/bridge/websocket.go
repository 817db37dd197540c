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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// wsReadLimit bounds one incoming message: the largest request plus
	// envelope overhead.
	wsReadLimit = 4 * MaxCodeChars

	// wsMaxInFlight caps concurrent calls per connection; reading pauses
	// while the cap is reached.
	wsMaxInFlight = 16

	wsWriteTimeout = 10 * time.Second
)

// WSRequest is one call on the WebSocket channel.
type WSRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// WSResponse answers one WSRequest. Exactly one of Result and Error is set.
type WSResponse struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *WSError        `json:"error,omitempty"`
}

// WSError is a transport-level failure for one call.
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     allowLocalOrigin,
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// allowLocalOrigin accepts requests without an Origin (native shells),
// file:// and opaque "null" origins (embedded webviews), and loopback
// hosts. Any other web page may not drive the code runner.
func allowLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme == "file" {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// HandleWebSocket handles GET /v1/bridge/ws.
//
// Description:
//
//	Upgrades to a WebSocket and serves {id, method, params} calls. Calls on
//	one connection run concurrently and replies may arrive out of order;
//	callers correlate by id. Writes are serialized. run_code and check_code
//	share the HTTP per-client rate limit.
//
// Thread Safety: Each connection owns its goroutines; the handler is safe
// for concurrent connections.
func (h *Handlers) HandleWebSocket(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := getOrCreateRequestID(c)
		logger := slog.With("request_id", requestID, "handler", "HandleWebSocket")

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("WebSocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(wsReadLimit)
		// The server's ReadTimeout deadline survives the hijack.
		_ = ws.SetReadDeadline(time.Time{})

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		recordWSConnection(ctx, 1)
		defer recordWSConnection(context.Background(), -1)
		logger.Info("WebSocket client connected", "client_ip", c.ClientIP())

		conn := &wsConn{
			ws:      ws,
			svc:     h.svc,
			limiter: limiter,
			client:  c.ClientIP(),
			logger:  logger,
			slots:   make(chan struct{}, wsMaxInFlight),
		}
		conn.serve(ctx)
		cancel()
		conn.wg.Wait()
		logger.Info("WebSocket client disconnected")
	}
}

// wsConn is the per-connection state.
type wsConn struct {
	ws      *websocket.Conn
	svc     *Service
	limiter *RateLimiter
	client  string
	logger  *slog.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup
	slots   chan struct{}
}

// serve reads until the client goes away.
func (w *wsConn) serve(ctx context.Context) {
	for {
		_, data, err := w.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(data, &req); err != nil {
			w.write(WSResponse{
				ID:    json.RawMessage("null"),
				Error: &WSError{Code: CodeInvalidRequest, Message: "invalid message: " + err.Error()},
			})
			continue
		}
		if len(req.ID) == 0 {
			req.ID = json.RawMessage("null")
		}

		if (req.Method == MethodRunCode || req.Method == MethodCheckCode) && !w.limiter.Allow(w.client) {
			recordRateLimited(ctx, req.Method, "websocket")
			w.write(WSResponse{ID: req.ID, Error: &WSError{Code: CodeRateLimited, Message: "too many requests"}})
			continue
		}

		select {
		case w.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		w.wg.Add(1)
		go func(req WSRequest) {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			w.write(w.dispatch(ctx, req))
		}(req)
	}
}

func (w *wsConn) dispatch(ctx context.Context, req WSRequest) WSResponse {
	result, err := w.svc.Call(ctx, req.Method, req.Params)
	if err == nil {
		return WSResponse{ID: req.ID, Result: result}
	}

	code := CodeInternal
	switch {
	case errors.Is(err, ErrUnknownMethod):
		code = CodeUnknownMethod
	case errors.Is(err, ErrInvalidParams):
		code = CodeInvalidRequest
	}
	w.logger.Warn("WebSocket call rejected", "method", req.Method, "error", err)
	return WSResponse{ID: req.ID, Error: &WSError{Code: code, Message: err.Error()}}
}

// write serializes writes; gorilla connections allow one concurrent writer.
func (w *wsConn) write(resp WSResponse) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.ws.WriteJSON(resp); err != nil {
		w.logger.Warn("Failed to write WebSocket JSON", "error", err)
	}
}
