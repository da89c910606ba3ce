// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insight

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianInsight/services/insight/routing"
)

// =============================================================================
// Decision Stream Hub
// =============================================================================

const (
	// streamClientBuffer is the per-client queue depth. A client that
	// cannot drain this many decisions is dropped rather than allowed to
	// backpressure the routing path.
	streamClientBuffer = 32

	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// streamUpgrader upgrades debug-stream requests. The debug surface is not
// exposed publicly, so cross-origin checks are relaxed.
var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// DecisionHub fans finished decisions out to WebSocket subscribers.
//
// # Thread Safety
//
// Safe for concurrent use.
type DecisionHub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]chan *routing.RoutingDecision
}

// NewDecisionHub builds an empty hub.
func NewDecisionHub(logger *slog.Logger) *DecisionHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionHub{
		logger:  logger,
		clients: make(map[string]chan *routing.RoutingDecision),
	}
}

// Broadcast delivers a decision to every subscriber without blocking. A
// subscriber with a full queue is dropped on the spot.
func (h *DecisionHub) Broadcast(decision *routing.RoutingDecision) {
	h.mu.RLock()
	var stale []string
	for id, ch := range h.clients {
		select {
		case ch <- decision:
		default:
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.remove(id)
		h.logger.Warn("Dropped slow decision-stream client", "client_id", id)
	}
}

// subscribe registers a new client queue.
func (h *DecisionHub) subscribe() (string, chan *routing.RoutingDecision) {
	id := uuid.NewString()
	ch := make(chan *routing.RoutingDecision, streamClientBuffer)

	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()
	return id, ch
}

// remove closes and forgets a client queue. Idempotent.
func (h *DecisionHub) remove(id string) {
	h.mu.Lock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
	h.mu.Unlock()
}

// ClientCount reports the number of connected subscribers.
func (h *DecisionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// serve pumps decisions to one upgraded connection until it closes or
// falls behind.
func (h *DecisionHub) serve(conn *websocket.Conn) {
	id, ch := h.subscribe()
	h.logger.Info("Decision-stream client connected", "client_id", id)

	defer func() {
		h.remove(id)
		_ = conn.Close()
		h.logger.Info("Decision-stream client disconnected", "client_id", id)
	}()

	// Reader goroutine: we ignore client messages but must consume them
	// to observe close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case decision, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(decision); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
