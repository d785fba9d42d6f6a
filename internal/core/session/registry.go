package session

import (
	"context"
	"sync"
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
)

// Registry maps document ids to session actors. Actors are created
// lazily on first contact, seeded from the result store so a client
// reconnecting after an eviction still sees authoritative terminal
// state, and evicted again once idle.
type Registry struct {
	deps      Deps
	idleAfter time.Duration

	mu     sync.Mutex
	actors map[string]*Actor
}

func NewRegistry(deps Deps, idleAfter time.Duration) *Registry {
	if idleAfter <= 0 {
		idleAfter = 15 * time.Minute
	}
	return &Registry{
		deps:      deps.normalize(),
		idleAfter: idleAfter,
		actors:    make(map[string]*Actor),
	}
}

func (r *Registry) actorFor(ctx context.Context, documentID string) *Actor {
	r.mu.Lock()
	if a, ok := r.actors[documentID]; ok {
		r.mu.Unlock()
		return a
	}
	r.mu.Unlock()

	// Seed outside the lock; a concurrent create for the same id is
	// resolved by the double-check below.
	var seed *domain.ScanSession
	if row, err := r.deps.Store.GetByID(ctx, documentID); err == nil {
		seed = row
	} else if !domain.IsKind(err, domain.ErrSessionNotFound) {
		r.deps.Logger.Warn("seed session from store", "document_id", documentID, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[documentID]; ok {
		return a
	}
	a := newActor(documentID, seed, r.deps)
	r.actors[documentID] = a
	return a
}

func (r *Registry) roundTrip(ctx context.Context, a *Actor, msg any, reply chan error) error {
	if err := a.enqueue(ctx, msg); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

func (r *Registry) StartProcessing(ctx context.Context, documentID, ownerID string, sources []string, instructions string) error {
	a := r.actorFor(ctx, documentID)
	reply := make(chan error, 1)
	return r.roundTrip(ctx, a, startMsg{
		ownerID:      ownerID,
		sources:      sources,
		instructions: instructions,
		reply:        reply,
	}, reply)
}

func (r *Registry) Cancel(ctx context.Context, documentID, ownerID string) error {
	a := r.actorFor(ctx, documentID)
	reply := make(chan error, 1)
	return r.roundTrip(ctx, a, cancelMsg{ownerID: ownerID, reply: reply}, reply)
}

func (r *Registry) Reset(ctx context.Context, documentID string) error {
	a := r.actorFor(ctx, documentID)
	reply := make(chan error, 1)
	return r.roundTrip(ctx, a, resetMsg{reply: reply}, reply)
}

func (r *Registry) GetStatus(ctx context.Context, documentID string) (domain.StatusSnapshot, error) {
	a := r.actorFor(ctx, documentID)
	reply := make(chan domain.StatusSnapshot, 1)
	if err := a.enqueue(ctx, statusMsg{reply: reply}); err != nil {
		return domain.StatusSnapshot{}, err
	}
	select {
	case <-ctx.Done():
		return domain.StatusSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

func (r *Registry) Connect(ctx context.Context, documentID string, conn ports.ObserverConn) error {
	a := r.actorFor(ctx, documentID)
	reply := make(chan error, 1)
	return r.roundTrip(ctx, a, connectMsg{conn: conn, reply: reply}, reply)
}

// Disconnect removes conn directly; the hub carries its own lock, so
// no mailbox round-trip is needed for removal.
func (r *Registry) Disconnect(documentID string, conn ports.ObserverConn) {
	r.mu.Lock()
	a, ok := r.actors[documentID]
	r.mu.Unlock()
	if ok {
		a.hub.Remove(conn)
	}
}

// EvictIdle stops and removes actors with no active run, no observers,
// and no recent mailbox activity. Terminal state survives in the
// result store, so an evicted session can always be reseeded.
func (r *Registry) EvictIdle(now time.Time) int {
	cutoff := now.Add(-r.idleAfter)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, a := range r.actors {
		if a.idle(cutoff) {
			a.stop()
			delete(r.actors, id)
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
				r.deps.Logger.Debug("evicted idle session actors", "count", n)
			}
		}
	}
}
