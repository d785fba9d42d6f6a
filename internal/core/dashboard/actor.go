// Package dashboard tracks which documents owned by one user are in
// flight and fans out status transitions to dashboard observers. The
// in-flight set is a derived, disposable cache: it has no persistence
// and clients refetch authoritative per-document state from the result
// store after a reconnect.
package dashboard

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/core/hub"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
)

const mailboxSize = 64

type transitionMsg struct {
	documentID string
	status     domain.ScanStatus
	text       string
}

type connectMsg struct {
	conn  ports.ObserverConn
	reply chan error
}

// Actor owns the dashboard state for one owner id. All mutations go
// through its mailbox, giving single-writer semantics per owner.
type Actor struct {
	ownerID string
	logger  *slog.Logger

	mailbox chan any
	quit    chan struct{}
	done    chan struct{}

	hub      *hub.Hub
	inFlight map[string]struct{}

	lastActive    atomic.Int64
	inFlightCount atomic.Int32
}

func newActor(ownerID string, logger *slog.Logger) *Actor {
	a := &Actor{
		ownerID:  ownerID,
		logger:   logger.With("owner_id", ownerID),
		mailbox:  make(chan any, mailboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		hub:      hub.New(),
		inFlight: make(map[string]struct{}),
	}
	a.touch()
	go a.loop()
	return a
}

// enqueue gives up when the caller's context ends before the mailbox
// has room.
func (a *Actor) enqueue(ctx context.Context, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return domain.WrapError(domain.ErrTemporary, "dashboard mailbox", context.Canceled)
	case a.mailbox <- msg:
		return nil
	}
}

// tryEnqueue never blocks; a full mailbox or stopped actor loses the
// message.
func (a *Actor) tryEnqueue(msg any) bool {
	select {
	case <-a.done:
		return false
	case a.mailbox <- msg:
		return true
	default:
		return false
	}
}

func (a *Actor) loop() {
	for {
		select {
		case <-a.quit:
			close(a.done)
			a.drain()
			return
		case msg := <-a.mailbox:
			a.touch()
			a.handle(msg)
		}
	}
}

// drain answers anything that raced past the stop so no caller blocks
// on a reply channel.
func (a *Actor) drain() {
	for {
		select {
		case msg := <-a.mailbox:
			if m, ok := msg.(connectMsg); ok {
				m.reply <- domain.ErrSessionNotFound
			}
		default:
			return
		}
	}
}

func (a *Actor) handle(msg any) {
	switch m := msg.(type) {
	case transitionMsg:
		a.handleTransition(m)
	case connectMsg:
		a.hub.Register(m.conn)
		m.reply <- a.hub.Send(m.conn, domain.Event{
			Type:     domain.EventConnected,
			InFlight: len(a.inFlight),
		})
	}
}

func (a *Actor) handleTransition(m transitionMsg) {
	removed := false
	switch {
	case m.status == domain.StatusProcessing:
		a.inFlight[m.documentID] = struct{}{}
	case m.status.IsTerminal():
		if _, ok := a.inFlight[m.documentID]; ok {
			delete(a.inFlight, m.documentID)
			removed = true
		}
	}
	a.inFlightCount.Store(int32(len(a.inFlight)))

	a.hub.Broadcast(domain.Event{
		Type:       domain.EventImageUpdate,
		DocumentID: m.documentID,
		Status:     m.status,
		Text:       m.text,
		InFlight:   len(a.inFlight),
	})

	if removed && len(a.inFlight) == 0 {
		a.hub.Broadcast(domain.Event{Type: domain.EventNoProcessing})
	}
}

func (a *Actor) touch() {
	a.lastActive.Store(time.Now().UnixNano())
}

// idle reports whether the actor may be evicted: nothing in flight, no
// observers, and no mailbox activity since cutoff.
func (a *Actor) idle(cutoff time.Time) bool {
	return a.inFlightCount.Load() == 0 &&
		a.hub.Len() == 0 &&
		a.lastActive.Load() < cutoff.UnixNano()
}

func (a *Actor) stop() {
	close(a.quit)
}
