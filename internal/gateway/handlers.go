package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// RegisterRoutes mounts the websocket endpoint at /ws and hub stats at
// /ws/stats.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/ws/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.Stats())
	})
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.Any("err", err))
		return
	}
	c := newClient(h, conn)
	h.addClient(c)
	go c.writePump()
	// The request context ends when ServeWS returns, so the read loop gets
	// its own background context.
	go c.readPump(context.WithoutCancel(r.Context()))
}
