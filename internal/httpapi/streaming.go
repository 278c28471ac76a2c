package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/streaming"
)

const (
	subscriberBuffer = 256
	sseHeartbeat     = 15 * time.Second
)

// eventCursor replays missed events then follows the live channel, dropping
// duplicates and filtered types.
type eventCursor struct {
	last    uint64
	types   map[string]struct{}
	stopped bool
}

func newEventCursor(r *http.Request) *eventCursor {
	c := &eventCursor{types: map[string]struct{}{}}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.types[t] = struct{}{}
			}
		}
	}
	lei := r.Header.Get("Last-Event-ID")
	if lei == "" {
		lei = r.URL.Query().Get("last_event_id")
	}
	if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
		c.last = n
	}
	return c
}

// accept reports whether ev should be delivered and advances the cursor.
// A terminal event stops the cursor whether or not it is delivered.
func (c *eventCursor) accept(ev streaming.Event) bool {
	if c.stopped || ev.Seq <= c.last {
		return false
	}
	c.last = ev.Seq
	if ev.IsTerminal() {
		c.stopped = true
	}
	if len(c.types) == 0 {
		return true
	}
	_, ok := c.types[ev.Type]
	return ok
}

// GET /api/v1/research/{id}/events streams run events as Server-Sent Events.
// The stream ends after WORKFLOW_COMPLETED or WORKFLOW_FAILED.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDFromPath(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	runID := id.String()
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	cur := newEventCursor(r)
	// Subscribe before replaying so nothing published in between is lost.
	ch := h.events.Subscribe(runID, subscriberBuffer)
	defer h.events.Unsubscribe(runID, ch)

	backlog, err := h.events.ReplaySince(r.Context(), runID, cur.last)
	if err != nil {
		h.logger.Warn("Event replay failed", zap.String("run_id", runID), zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(w, ": connected to run %s\n\n", runID)

	for _, ev := range backlog {
		if cur.accept(ev) {
			writeSSE(w, ev)
		}
	}
	flusher.Flush()

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()
	for !cur.stopped {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", runID))
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if cur.accept(ev) {
				writeSSE(w, ev)
				flusher.Flush()
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}
