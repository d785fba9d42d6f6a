package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
)

// Registry maps owner ids to dashboard actors, creating them lazily on
// first contact and evicting idle ones. It implements
// ports.DashboardNotifier and ports.DashboardService.
type Registry struct {
	logger    *slog.Logger
	idleAfter time.Duration

	mu     sync.Mutex
	actors map[string]*Actor
}

func NewRegistry(logger *slog.Logger, idleAfter time.Duration) *Registry {
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}
	return &Registry{
		logger:    logger,
		idleAfter: idleAfter,
		actors:    make(map[string]*Actor),
	}
}

func (r *Registry) actorFor(ownerID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[ownerID]; ok {
		return a
	}
	a := newActor(ownerID, r.logger)
	r.actors[ownerID] = a
	return a
}

// NotifyTransition is fire-and-forget: a full mailbox or stopped actor
// never blocks or fails the calling session actor.
func (r *Registry) NotifyTransition(ownerID, documentID string, status domain.ScanStatus, text string) {
	a := r.actorFor(ownerID)
	if !a.tryEnqueue(transitionMsg{documentID: documentID, status: status, text: text}) {
		r.logger.Warn("dashboard transition dropped", "owner_id", ownerID, "document_id", documentID)
	}
}

func (r *Registry) Connect(ctx context.Context, ownerID string, conn ports.ObserverConn) error {
	a := r.actorFor(ownerID)
	reply := make(chan error, 1)
	if err := a.enqueue(ctx, connectMsg{conn: conn, reply: reply}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

// Disconnect removes conn directly; the hub carries its own lock, so
// no mailbox round-trip is needed for removal.
func (r *Registry) Disconnect(ownerID string, conn ports.ObserverConn) {
	r.mu.Lock()
	a, ok := r.actors[ownerID]
	r.mu.Unlock()
	if ok {
		a.hub.Remove(conn)
	}
}

// EvictIdle stops and removes actors idle since before now-idleAfter.
func (r *Registry) EvictIdle(now time.Time) int {
	cutoff := now.Add(-r.idleAfter)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for ownerID, a := range r.actors {
		if a.idle(cutoff) {
			a.stop()
			delete(r.actors, ownerID)
			evicted++
		}
	}
	return evicted
}

// Run drives the eviction janitor until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.EvictIdle(now); n > 0 {
				r.logger.Debug("evicted idle dashboard actors", "count", n)
			}
		}
	}
}
