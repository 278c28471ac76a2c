package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsPingInterval = 20 * time.Second
	wsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the UI origin; tokens, not origins, gate access.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /api/v1/research/{id}/events/ws streams run events as JSON messages.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDFromPath(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	runID := id.String()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	cur := newEventCursor(r)
	ch := h.events.Subscribe(runID, subscriberBuffer)
	defer h.events.Unsubscribe(runID, ch)

	backlog, err := h.events.ReplaySince(r.Context(), runID, cur.last)
	if err != nil {
		h.logger.Warn("Event replay failed", zap.String("run_id", runID), zap.Error(err))
	}
	for _, ev := range backlog {
		if cur.accept(ev) {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}

	// Reader pump: detects client close and keeps pongs flowing.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	})
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for !cur.stopped {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if !cur.accept(ev) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(wsWriteWait))
}
