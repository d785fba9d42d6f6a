package httpadapter

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	keepaliveInterval = 25 * time.Second

	// sseWriteTimeout turns a stalled client into a failed write, so
	// the hub drops the connection instead of waiting on it.
	sseWriteTimeout = 10 * time.Second
)

// sseConn adapts one event-stream response to an observer connection.
// Writes are serialized: the hub broadcasts from actor goroutines
// while keepalives come from the handler goroutine.
type sseConn struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	flusher http.Flusher
}

func newSSEConn(w http.ResponseWriter) (*sseConn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseConn{w: w, rc: http.NewResponseController(w), flusher: flusher}, nil
}

func (c *sseConn) WriteEvent(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Best effort: test recorders report the deadline as unsupported.
	_ = c.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *sseConn) writeKeepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	if _, err := fmt.Fprint(c.w, ": keepalive\n\n"); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (rt *Router) scanEvents(w http.ResponseWriter, r *http.Request, documentID string) {
	conn, err := newSSEConn(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := rt.scans.Connect(r.Context(), documentID, conn); err != nil {
		// Headers are already out; the stream just ends.
		return
	}
	defer rt.scans.Disconnect(documentID, conn)

	holdStream(r, conn)
}

func (rt *Router) dashboardEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner"))
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner query parameter is required"})
		return
	}

	conn, err := newSSEConn(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := rt.dashboards.Connect(r.Context(), ownerID, conn); err != nil {
		return
	}
	defer rt.dashboards.Disconnect(ownerID, conn)

	holdStream(r, conn)
}

// holdStream keeps the connection open until the client goes away,
// emitting comment keepalives so idle streams survive proxies.
func holdStream(r *http.Request, conn *sseConn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.writeKeepalive(); err != nil {
				return
			}
		}
	}
}
