package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/events"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// SSEHandler streams engine events over Server-Sent Events.
type SSEHandler struct {
	broker *events.Broker
}

// NewSSEHandler creates an SSEHandler over broker.
func NewSSEHandler(broker *events.Broker) *SSEHandler {
	return &SSEHandler{broker: broker}
}

// ServeHTTP handles GET /v1/events. Query parameters narrow the stream:
// ?job= follows one job, ?type= one event type.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError,
			core.NewInternalError("streaming unsupported"))
		return
	}

	ch, cancel, err := subscribeEvents(h.broker, r)
	if err != nil {
		HandleError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// An initial comment commits the stream before the first event.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// subscribeEvents narrows a broker subscription by the request's ?job= or
// ?type= query parameters. The SSE and WebSocket endpoints share it.
func subscribeEvents(broker *events.Broker, r *http.Request) (<-chan *core.Event, func(), error) {
	q := r.URL.Query()
	if job := q.Get("job"); job != "" {
		return broker.SubscribeJob(job)
	}
	if typ := q.Get("type"); typ != "" {
		return broker.SubscribeType(typ)
	}
	return broker.SubscribeAll()
}
