// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slurmctld/core/internal/bus"
)

// watchUpgrader uses a permissive origin policy: this endpoint only
// ever faces cluster-internal tooling, not a public browser, so
// CheckOrigin is not tightened further here.
var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// watchMessage is the wire shape handleWatch pushes for every bus
// update, a trimmed projection of bus.UpdateObject safe to serialize
// (Payload is already a plain struct for every Kind the bus carries).
type watchMessage struct {
	Kind      bus.Kind  `json:"kind"`
	Key       string    `json:"key"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// handleWatch upgrades to a websocket and streams every Update Bus
// object matching the caller's requested kinds (query parameter
// "kind", repeatable; absent means every kind) until the client
// disconnects.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("watch upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	kinds := make(map[bus.Kind]struct{})
	for _, k := range r.URL.Query()["kind"] {
		kinds[bus.Kind(k)] = struct{}{}
	}
	var filter func(bus.UpdateObject) bool
	if len(kinds) > 0 {
		filter = func(u bus.UpdateObject) bool {
			_, ok := kinds[u.Kind]
			return ok
		}
	}

	sub := s.Engine.Bus.Subscribe(r.Context(), 64, filter)
	defer sub.Close()

	// Drain client-sent control frames (pings/close) so the connection's
	// read deadline keeps advancing; this endpoint is push-only.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			msg := watchMessage{Kind: u.Kind, Key: u.Key, Payload: u.Payload, Timestamp: u.Timestamp}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
