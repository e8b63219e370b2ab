// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package riskengine

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/riskboard/services/riskengine/cache"
	"github.com/AleutianAI/riskboard/services/riskengine/scheduler"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	// The dashboard is served from a different origin than the API.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// HandleStream handles GET /v1/assessment/stream.
//
// # Description
//
// Upgrades to a websocket and pushes a StreamMessage for the current
// snapshot (when there is one) and for every later publish. Connecting
// requests a refresh with scheduler.ReasonMount so a freshly opened
// dashboard does not wait a full interval; that request is never
// throttled and its result is ignored.
//
// A slow client only ever receives the newest snapshot. Messages sent by
// the client are read and discarded.
//
// # Limitations
//
//   - The stream ends when the cache is closed (service shutdown).
func (h *Handlers) HandleStream(c *gin.Context) {
	updates, cancel, err := h.snapshots.Subscribe()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cache.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: CodeUnavailable})
		return
	}
	defer cancel()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	logger := h.logger.With("remote", c.ClientIP())
	logger.Info("Stream client connected")

	_ = h.refresher.Trigger(scheduler.ReasonMount)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(4096)
		_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			logger.Info("Stream client disconnected")
			return
		case snap, ok := <-updates:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteJSON(StreamMessage{
				Type:       "assessment",
				Generation: snap.Generation,
				Latest:     snap.Latest,
				LastGood:   snap.LastGood,
			}); err != nil {
				logger.Warn("Stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
