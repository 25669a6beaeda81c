package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins; the API key middleware gates access.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler streams engine events over a WebSocket connection. The socket
// is server-to-client only; inbound frames are discarded.
type WSHandler struct {
	broker *events.Broker
	logger *slog.Logger
}

// NewWSHandler creates a WSHandler over broker.
func NewWSHandler(broker *events.Broker, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{broker: broker, logger: logger}
}

// ServeHTTP handles GET /v1/events/ws with the same ?job= and ?type=
// filters as the SSE endpoint.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, cancel, err := subscribeEvents(h.broker, r)
	if err != nil {
		HandleError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Error("websocket upgrade failed", "error", err)
		cancel()
		return
	}

	go h.writePump(conn, ch, cancel)
	go h.readPump(conn)
}

// writePump pumps broker events to the WebSocket connection and keeps it
// alive with pings.
func (h *WSHandler) writePump(conn *websocket.Conn, ch <-chan *core.Event, cancel func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The broker shut down.
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes and discards inbound frames, which processes pong
// frames and notices the peer closing.
func (h *WSHandler) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}
