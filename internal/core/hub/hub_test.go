package hub

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

type connFake struct {
	events  [][]byte
	failAll bool
}

func (c *connFake) WriteEvent(payload []byte) error {
	if c.failAll {
		return errors.New("broken pipe")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.events = append(c.events, buf)
	return nil
}

// stalledConnFake blocks every write until released, like a client
// whose TCP window closed.
type stalledConnFake struct {
	release chan struct{}
}

func (c *stalledConnFake) WriteEvent([]byte) error {
	<-c.release
	return nil
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	h := New()
	a, b := &connFake{}, &connFake{}
	h.Register(a)
	h.Register(b)

	if dropped := h.Broadcast(domain.Event{Type: domain.EventChunk, Text: "AB"}); dropped != 0 {
		t.Fatalf("Broadcast() dropped = %d, want 0", dropped)
	}

	for _, conn := range []*connFake{a, b} {
		if len(conn.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(conn.events))
		}
		var got domain.Event
		if err := json.Unmarshal(conn.events[0], &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if got.Type != domain.EventChunk || got.Text != "AB" {
			t.Fatalf("unexpected event: %+v", got)
		}
	}
}

func TestBroadcastDropsOnlyFailedConnection(t *testing.T) {
	h := New()
	healthy, broken := &connFake{}, &connFake{failAll: true}
	h.Register(healthy)
	h.Register(broken)

	if dropped := h.Broadcast(domain.Event{Type: domain.EventChunk, Text: "x"}); dropped != 1 {
		t.Fatalf("Broadcast() dropped = %d, want 1", dropped)
	}
	if len(healthy.events) != 1 {
		t.Fatalf("healthy connection lost delivery")
	}
	if h.Len() != 1 {
		t.Fatalf("expected broken connection removed, Len() = %d", h.Len())
	}

	// Subsequent broadcasts no longer see the dead connection.
	h.Broadcast(domain.Event{Type: domain.EventChunk, Text: "y"})
	if len(healthy.events) != 2 {
		t.Fatalf("expected second delivery to healthy connection")
	}
}

func TestBroadcastDropsStalledConnection(t *testing.T) {
	h := New()
	healthy := &connFake{}
	stalled := &stalledConnFake{release: make(chan struct{})}
	defer close(stalled.release)
	h.Register(healthy)
	h.Register(stalled)

	start := time.Now()
	dropped := h.Broadcast(domain.Event{Type: domain.EventChunk, Text: "x"})
	if dropped != 1 {
		t.Fatalf("Broadcast() dropped = %d, want 1", dropped)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Broadcast() blocked %s on a stalled connection", elapsed)
	}
	if len(healthy.events) != 1 {
		t.Fatalf("healthy connection lost delivery")
	}
	if h.Len() != 1 {
		t.Fatalf("expected stalled connection removed, Len() = %d", h.Len())
	}
}

func TestSendRemovesConnectionOnFailure(t *testing.T) {
	h := New()
	broken := &connFake{failAll: true}
	h.Register(broken)

	if err := h.Send(broken, domain.Event{Type: domain.EventConnected}); err == nil {
		t.Fatalf("expected write error")
	}
	if h.Len() != 0 {
		t.Fatalf("failed connection must be removed")
	}
}

func TestRemoveUnknownConnectionIsNoop(t *testing.T) {
	h := New()
	h.Remove(&connFake{})
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
}
