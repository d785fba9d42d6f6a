// Package hub holds the live set of observer connections for one actor
// and performs best-effort fan-out. There is no queueing and no
// backpressure: a slow or dead observer is dropped, never waited on.
package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
)

// writeTimeout caps how long a single observer write may take. A
// healthy transport hands the payload to the kernel immediately; one
// that takes this long is stalled and gets dropped like a dead one.
const writeTimeout = 1 * time.Second

var errStalledObserver = errors.New("observer write timed out")

// boundedWrite runs the write on its own goroutine so a stalled
// connection can be abandoned. The abandoned write finishes whenever
// the transport lets it; its connection is gone from the set by then.
func boundedWrite(conn ports.ObserverConn, payload []byte) error {
	done := make(chan error, 1)
	go func() { done <- conn.WriteEvent(payload) }()

	timer := time.NewTimer(writeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errStalledObserver
	}
}

type Hub struct {
	mu    sync.Mutex
	conns map[ports.ObserverConn]struct{}
}

func New() *Hub {
	return &Hub{conns: make(map[ports.ObserverConn]struct{})}
}

func (h *Hub) Register(conn ports.ObserverConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) Remove(conn ports.ObserverConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast serializes event once and writes it to every live
// connection. A failed or stalled write removes that connection and
// never affects delivery to the rest. Returns the number of
// connections dropped.
func (h *Hub) Broadcast(event domain.Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal broadcast event", "type", event.Type, "error", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for conn := range h.conns {
		if writeErr := boundedWrite(conn, payload); writeErr != nil {
			delete(h.conns, conn)
			dropped++
		}
	}
	return dropped
}

// Send delivers event to a single connection, used for welcome and
// reconnection snapshots. The connection is removed when the write
// fails or stalls.
func (h *Hub) Send(conn ports.ObserverConn, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if writeErr := boundedWrite(conn, payload); writeErr != nil {
		h.Remove(conn)
		return writeErr
	}
	return nil
}
