package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
)

// Event types emitted during a research run.
const (
	EventWorkflowStarted   = "WORKFLOW_STARTED"
	EventStageStarted      = "STAGE_STARTED"
	EventStageCompleted    = "STAGE_COMPLETED"
	EventStageFailed       = "STAGE_FAILED"
	EventRoutingDecision   = "ROUTING_DECISION"
	EventWorkflowCompleted = "WORKFLOW_COMPLETED"
	EventWorkflowFailed    = "WORKFLOW_FAILED"
)

// Event is a streaming event for one research run.
type Event struct {
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// IsTerminal reports whether no further events follow e.
func (e Event) IsTerminal() bool {
	return e.Type == EventWorkflowCompleted || e.Type == EventWorkflowFailed
}

// Manager provides pub/sub for run events with a per-run replay ring. When a
// Redis client is attached, events are mirrored to a capped stream so that
// other processes can replay them.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int

	redis  redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRedisMirror mirrors every event to a Redis stream kept for ttl.
func WithRedisMirror(client redis.UniversalClient, ttl time.Duration) Option {
	return func(m *Manager) {
		m.redis = client
		m.ttl = ttl
	}
}

// NewManager creates a manager keeping up to capacity events per run.
func NewManager(capacity int, logger *zap.Logger, opts ...Option) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// StreamKey is the Redis stream holding a run's events.
func StreamKey(runID string) string {
	return fmt.Sprintf("deepresearch:events:%s", runID)
}

// Subscribe adds a subscriber channel for runID; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, present := subs[ch]; !present {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns the next sequence number and delivers evt to subscribers
// without blocking. Slow subscribers miss the event.
func (m *Manager) Publish(runID string, evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.RunID = runID

	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	// Sends never block. Holding the lock stops Unsubscribe from closing a
	// channel mid-send.
	for ch := range m.subscribers[runID] {
		select {
		case ch <- evt:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
	m.mu.Unlock()

	metrics.StreamEventsPublished.WithLabelValues(evt.Type).Inc()
	m.mirror(evt)
	return evt
}

func (m *Manager) mirror(evt Event) {
	if m.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := StreamKey(evt.RunID)
	pipe := m.redis.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: int64(m.capacity),
		Approx: true,
		Values: map[string]any{
			"seq":   strconv.FormatUint(evt.Seq, 10),
			"event": string(evt.Marshal()),
		},
	})
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("Failed to mirror event to Redis",
			zap.String("run_id", evt.RunID),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
	}
}

// ReplaySince returns events with Seq > since. Local history is preferred;
// the Redis mirror is consulted when this process never saw the run.
func (m *Manager) ReplaySince(ctx context.Context, runID string, since uint64) ([]Event, error) {
	m.mu.RLock()
	rg := m.history[runID]
	var local []Event
	if rg != nil {
		local = rg.since(since)
	}
	m.mu.RUnlock()
	if rg != nil || m.redis == nil {
		return local, nil
	}

	msgs, err := m.redis.XRange(ctx, StreamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, _ := msg.Values["event"].(string)
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Forget drops the local replay history of a finished run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
