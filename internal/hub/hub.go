package hub

import (
	"log/slog"
	"sync"

	"airsenal-control/internal/models"
)

// EventType discriminates the live events of a job
type EventType string

const (
	EventLog    EventType = "log"
	EventStatus EventType = "status"
	EventOutput EventType = "output"
)

// Event is one live update for a job: a log line, a status transition or the
// parsed output.
type Event struct {
	JobID  string           `json:"job_id"`
	Type   EventType        `json:"type"`
	Line   string           `json:"message,omitempty"`
	Status models.JobStatus `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`
	Output *models.Output   `json:"payload,omitempty"`
}

// defaultBuffer is the per-subscriber queue depth before the subscriber is
// considered too slow and dropped.
const defaultBuffer = 256

// Hub fans a job's log lines and status transitions out to any number of
// live subscribers. Publishing never blocks: a subscriber whose buffer is
// full is dropped. Sends and channel closes both happen under the hub
// mutex, so a publish can never race an unsubscribe.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscriber]struct{}
	buffer int
	logger *slog.Logger
}

// Subscriber is one registered observer of a single job id. Events arrive
// on C until Unsubscribe, or until the hub drops the subscriber; either way
// C is closed.
type Subscriber struct {
	JobID string
	C     <-chan Event

	hub    *Hub
	ch     chan Event
	closed bool
}

// New creates a hub with the default per-subscriber buffer.
func New(logger *slog.Logger) *Hub {
	return NewBuffered(logger, defaultBuffer)
}

// NewBuffered creates a hub with an explicit per-subscriber buffer size.
func NewBuffered(logger *slog.Logger, buffer int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new observer for jobID.
func (h *Hub) Subscribe(jobID string) *Subscriber {
	ch := make(chan Event, h.buffer)
	sub := &Subscriber{JobID: jobID, C: ch, hub: h, ch: ch}

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[jobID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call
// more than once.
func (s *Subscriber) Unsubscribe() {
	s.hub.mu.Lock()
	s.hub.dropLocked(s)
	s.hub.mu.Unlock()
}

// Publish delivers ev to every subscriber of ev.JobID. Slow subscribers are
// dropped rather than blocking the publisher.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.JobID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("dropping slow subscriber", "job_id", ev.JobID)
			h.dropLocked(sub)
		}
	}
}

// PublishLog is shorthand for a log-line event.
func (h *Hub) PublishLog(jobID, line string) {
	h.Publish(Event{JobID: jobID, Type: EventLog, Line: line})
}

// PublishStatus is shorthand for a status transition event.
func (h *Hub) PublishStatus(jobID string, status models.JobStatus, errMsg string) {
	h.Publish(Event{JobID: jobID, Type: EventStatus, Status: status, Error: errMsg})
}

// PublishOutput is shorthand for a parsed-output event.
func (h *Hub) PublishOutput(jobID string, output *models.Output) {
	h.Publish(Event{JobID: jobID, Type: EventOutput, Output: output})
}

// Subscribers reports the number of live subscribers for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

func (h *Hub) dropLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true

	set := h.subs[sub.JobID]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.JobID)
	}
	close(sub.ch)
}
