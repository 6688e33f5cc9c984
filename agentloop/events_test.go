package agentloop

import (
	"log/slog"
	"testing"
)

func TestChannelObserverDropsWhenFull(t *testing.T) {
	c := NewChannelObserver(2)
	for range 5 {
		c.Notify(Event{Kind: EventThinking})
	}
	if c.Dropped() != 3 {
		t.Errorf("expected 3 dropped, got %d", c.Dropped())
	}
	c.Close()
	c.Close()
	c.Notify(Event{Kind: EventComplete})

	n := 0
	for range c.Events() {
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 buffered events, got %d", n)
	}
}

func TestNotifierIsolatesPanics(t *testing.T) {
	rec := &recorder{}
	n := &notifier{
		agentID:   "a1",
		observers: []Observer{ObserverFunc(func(Event) { panic("bad") }), rec},
		logger:    slog.New(slog.DiscardHandler),
	}
	n.emit(EventComplete, 3, map[string]any{"answer": "x"})

	if len(rec.events) != 1 {
		t.Fatalf("expected delivery after panicking observer, got %d", len(rec.events))
	}
	e := rec.events[0]
	if e.AgentID != "a1" || e.Iteration != 3 || e.Data["answer"] != "x" || e.Timestamp.IsZero() {
		t.Errorf("unexpected event %+v", e)
	}
}
