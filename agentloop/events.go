package agentloop

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies the type of lifecycle event.
type EventKind string

const (
	EventThinking     EventKind = "thinking"
	EventExecuting    EventKind = "executing"
	EventObservation  EventKind = "observation"
	EventLoopDetected EventKind = "loop_detected"
	EventComplete     EventKind = "complete"
	EventError        EventKind = "error"
)

// Event is a lifecycle notification emitted by an agent run.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id"`
	Iteration int            `json:"iteration"`
	Data      map[string]any `json:"data,omitempty"`
}

// Observer receives lifecycle events. Notify is called synchronously from
// the loop, so implementations should return quickly.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(e Event) { f(e) }

// notifier fans events out to observers. A panicking observer is logged and
// skipped; it never affects the run.
type notifier struct {
	agentID   string
	observers []Observer
	logger    *slog.Logger
}

func (n *notifier) emit(kind EventKind, iteration int, data map[string]any) {
	if len(n.observers) == 0 {
		return
	}
	e := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		AgentID:   n.agentID,
		Iteration: iteration,
		Data:      data,
	}
	for _, o := range n.observers {
		n.deliver(o, e)
	}
}

func (n *notifier) deliver(o Observer, e Event) {
	defer func() {
		if p := recover(); p != nil {
			n.logger.Warn("observer failed", "event", e.Kind, "error", fmt.Sprint(p))
		}
	}()
	o.Notify(e)
}

// ChannelObserver delivers events to a buffered channel for a host
// application. Events are dropped when the buffer is full.
type ChannelObserver struct {
	ch      chan Event
	closed  bool
	dropped int
	mu      sync.Mutex
}

// NewChannelObserver creates a ChannelObserver with the given buffer size.
func NewChannelObserver(bufferSize int) *ChannelObserver {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelObserver{ch: make(chan Event, bufferSize)}
}

// Notify implements Observer.
func (c *ChannelObserver) Notify(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped++
	}
}

// Events returns the read-only event channel.
func (c *ChannelObserver) Events() <-chan Event {
	return c.ch
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (c *ChannelObserver) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the event channel. Safe to call multiple times.
func (c *ChannelObserver) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
