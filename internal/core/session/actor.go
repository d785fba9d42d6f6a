// Package session implements the per-document scan session actor: a
// single command-processing loop that owns the extraction state
// machine, streams incremental model output to observers, and persists
// terminal results.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/core/hub"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
	"github.com/kirillkom/document-scan-service/internal/core/repetition"
)

const (
	mailboxSize = 256

	// persistTimeout bounds each store write issued from the loop.
	persistTimeout = 10 * time.Second
)

// RunConfig bounds a single extraction run.
type RunConfig struct {
	// RunTimeout is the ceiling for one run; the upstream call is
	// aborted when it elapses and the run is persisted as failed.
	RunTimeout time.Duration

	// MaxImageDim bounds page image dimensions before the model call.
	MaxImageDim int
}

func (c RunConfig) normalize() RunConfig {
	out := c
	if out.RunTimeout <= 0 {
		out.RunTimeout = 5 * time.Minute
	}
	if out.MaxImageDim <= 0 {
		out.MaxImageDim = 2048
	}
	return out
}

// Deps are the collaborators shared by every session actor.
type Deps struct {
	Store      ports.ResultStore
	Storage    ports.ObjectStorage
	Vision     ports.VisionClient
	Images     ports.ImagePreprocessor
	Dashboards ports.DashboardNotifier
	Detector   *repetition.Detector
	Logger     *slog.Logger
	Metrics    Metrics
	Config     RunConfig
}

func (d Deps) normalize() Deps {
	out := d
	if out.Detector == nil {
		out.Detector = repetition.New()
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Metrics == nil {
		out.Metrics = nopMetrics{}
	}
	out.Config = out.Config.normalize()
	return out
}

// Actor owns one document's scan session. Exactly one actor instance
// exists per document id, so session state needs no cross-instance
// locking.
type Actor struct {
	deps   Deps
	logger *slog.Logger

	mailbox chan any
	quit    chan struct{}
	done    chan struct{}

	hub  *hub.Hub
	sess domain.ScanSession

	everStarted bool
	runID       uint64
	cancelRun   context.CancelFunc

	processing atomic.Bool
	lastActive atomic.Int64
}

func newActor(documentID string, seed *domain.ScanSession, deps Deps) *Actor {
	a := &Actor{
		deps:    deps,
		logger:  deps.Logger.With("document_id", documentID),
		mailbox: make(chan any, mailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		hub:     hub.New(),
		sess:    domain.ScanSession{ID: documentID, Status: domain.StatusPending},
	}
	if seed != nil {
		a.sess = *seed
		a.everStarted = seed.Status != domain.StatusPending || seed.AccumulatedText != ""
		// A row stuck in processing means the previous host lost the
		// run mid-flight; nothing is streaming anymore, so surface it
		// as failed until the client rescans.
		if a.sess.Status == domain.StatusProcessing {
			a.sess.Status = domain.StatusFailed
			a.sess.ErrorMessage = "scan interrupted before completion"
		}
	}
	a.touch()
	go a.loop()
	return a
}

// enqueue hands msg to the loop, giving up when the caller's context
// ends first so a full mailbox never strands the caller.
func (a *Actor) enqueue(ctx context.Context, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return domain.WrapError(domain.ErrTemporary, "session mailbox", context.Canceled)
	case a.mailbox <- msg:
		return nil
	}
}

// post is the non-blocking variant used by the extraction task; a
// stopped actor silently swallows late progress.
func (a *Actor) post(msg any) {
	select {
	case <-a.done:
	case a.mailbox <- msg:
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

func (a *Actor) drain() {
	for {
		select {
		case msg := <-a.mailbox:
			switch m := msg.(type) {
			case startMsg:
				m.reply <- domain.ErrSessionNotFound
			case cancelMsg:
				m.reply <- domain.ErrSessionNotFound
			case resetMsg:
				m.reply <- domain.ErrSessionNotFound
			case connectMsg:
				m.reply <- domain.ErrSessionNotFound
			case statusMsg:
				m.reply <- domain.StatusSnapshot{}
			}
		default:
			return
		}
	}
}

func (a *Actor) handle(msg any) {
	switch m := msg.(type) {
	case startMsg:
		m.reply <- a.handleStart(m)
	case cancelMsg:
		m.reply <- a.handleCancel(m)
	case resetMsg:
		m.reply <- a.handleReset()
	case statusMsg:
		m.reply <- a.snapshot()
	case connectMsg:
		m.reply <- a.handleConnect(m)
	case fragmentMsg:
		a.handleFragment(m)
	case pageStartMsg:
		a.handlePageStart(m)
	case pageCompleteMsg:
		a.handlePageComplete(m)
	case runDoneMsg:
		a.handleRunDone(m)
	}
}

func (a *Actor) handleStart(m startMsg) error {
	if a.sess.Status == domain.StatusProcessing {
		return domain.ErrAlreadyProcessing
	}
	if len(m.sources) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "start scan", errors.New("no source pages"))
	}

	a.runID++
	a.everStarted = true
	now := time.Now()

	a.sess.OwnerID = m.ownerID
	a.sess.Status = domain.StatusProcessing
	a.sess.AccumulatedText = ""
	a.sess.ErrorMessage = ""
	a.sess.CancelRequested = false
	a.sess.Pages = m.sources
	a.sess.TotalPages = len(m.sources)
	a.sess.CurrentPageIndex = 0
	a.sess.StartedAt = now
	a.sess.ProcessingTimeMs = 0
	a.processing.Store(true)

	a.persistStart(now)

	runCtx, cancel := context.WithTimeout(context.Background(), a.deps.Config.RunTimeout)
	a.cancelRun = cancel
	go a.runExtraction(runCtx, runParams{
		runID:        a.runID,
		pages:        m.sources,
		instructions: m.instructions,
		startedAt:    now,
		cancel:       cancel,
	})

	a.broadcast(domain.Event{Type: domain.EventStatus, Status: domain.StatusProcessing})
	a.notifyDashboard(domain.StatusProcessing, "")
	a.deps.Metrics.RunStarted()

	a.logger.Info("scan started", "owner_id", m.ownerID, "pages", len(m.sources))
	return nil
}

func (a *Actor) handleCancel(m cancelMsg) error {
	if a.sess.Status != domain.StatusProcessing || a.cancelRun == nil {
		return domain.ErrNotProcessing
	}
	if m.ownerID != "" && a.sess.OwnerID != "" && m.ownerID != a.sess.OwnerID {
		return domain.WrapError(domain.ErrInvalidInput, "cancel scan", errors.New("owner mismatch"))
	}

	a.sess.CancelRequested = true
	a.cancelRun()
	a.logger.Info("scan cancel requested", "owner_id", m.ownerID)
	return nil
}

func (a *Actor) handleReset() error {
	if a.sess.Status == domain.StatusProcessing && a.cancelRun != nil {
		// Abort the run and stale its in-flight messages; the forced
		// reset supersedes the terminal broadcast of that run.
		a.cancelRun()
		a.cancelRun = nil
		a.runID++
	}

	a.sess.Status = domain.StatusPending
	a.sess.AccumulatedText = ""
	a.sess.ErrorMessage = ""
	a.sess.CancelRequested = false
	a.sess.Pages = nil
	a.sess.TotalPages = 0
	a.sess.CurrentPageIndex = 0
	a.sess.StartedAt = time.Time{}
	a.sess.ProcessingTimeMs = 0
	a.everStarted = false
	a.processing.Store(false)

	a.persist(domain.ScanUpdate{
		Status:           statusPtr(domain.StatusPending),
		Text:             strPtr(""),
		ErrorMessage:     strPtr(""),
		ProcessingTimeMs: int64Ptr(0),
	})
	a.broadcast(domain.Event{Type: domain.EventStatus, Status: domain.StatusPending})

	a.logger.Info("scan reset")
	return nil
}

func (a *Actor) snapshot() domain.StatusSnapshot {
	snap := domain.StatusSnapshot{
		ID:         a.sess.ID,
		Status:     a.sess.Status,
		Processing: a.sess.Status == domain.StatusProcessing,
		TextLength: len(a.sess.AccumulatedText),
		TotalPages: a.sess.TotalPages,
		ElapsedMs:  a.sess.ProcessingTimeMs,
	}
	if snap.Processing {
		snap.ElapsedMs = time.Since(a.sess.StartedAt).Milliseconds()
	}
	return snap
}

func (a *Actor) handleConnect(m connectMsg) error {
	a.hub.Register(m.conn)
	a.deps.Metrics.ObserverConnected()

	// A client joining mid-stream or rejoining after a network blip is
	// resynchronized with one snapshot instead of replayed history.
	if a.everStarted {
		return a.hub.Send(m.conn, domain.Event{
			Type:   domain.EventReconnected,
			Status: a.sess.Status,
			Text:   a.sess.AccumulatedText,
		})
	}
	return a.hub.Send(m.conn, domain.Event{Type: domain.EventConnected})
}

func (a *Actor) handleFragment(m fragmentMsg) {
	if m.runID != a.runID || a.sess.Status != domain.StatusProcessing || a.sess.CancelRequested {
		return
	}
	a.sess.AccumulatedText += m.text
	a.broadcast(domain.Event{Type: domain.EventChunk, Text: m.text})
	a.deps.Metrics.FragmentStreamed(len(m.text))
}

func (a *Actor) handlePageStart(m pageStartMsg) {
	if m.runID != a.runID || a.sess.Status != domain.StatusProcessing {
		return
	}
	a.sess.CurrentPageIndex = m.pageNumber - 1
	a.broadcast(domain.Event{
		Type:       domain.EventPageStart,
		PageNumber: m.pageNumber,
		TotalPages: m.totalPages,
	})
}

func (a *Actor) handlePageComplete(m pageCompleteMsg) {
	if m.runID != a.runID || a.sess.Status != domain.StatusProcessing || a.sess.CancelRequested {
		return
	}
	a.broadcast(domain.Event{
		Type:       domain.EventPageComplete,
		PageNumber: m.pageNumber,
		TotalPages: m.totalPages,
		Text:       m.text,
	})
}

func (a *Actor) handleRunDone(m runDoneMsg) {
	if m.runID != a.runID || a.sess.Status != domain.StatusProcessing {
		return
	}
	a.cancelRun = nil
	a.processing.Store(false)
	elapsedMs := m.elapsed.Milliseconds()

	switch {
	case a.sess.CancelRequested:
		// An accepted Cancel always wins, even over a stream that
		// finished before the context abort landed.
		a.sess.Status = domain.StatusCancelled
		a.sess.ProcessingTimeMs = elapsedMs
		a.persist(domain.ScanUpdate{
			Status: statusPtr(domain.StatusCancelled),
			Text:   strPtr(a.sess.AccumulatedText),
		})
		a.broadcast(domain.Event{Type: domain.EventCancelled})
		a.notifyDashboard(domain.StatusCancelled, a.sess.AccumulatedText)
		a.logger.Info("scan cancelled", "elapsed_ms", elapsedMs)

	case m.err != nil:
		msg := m.err.Error()
		if errors.Is(m.err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("scan timed out after %s", a.deps.Config.RunTimeout)
		}
		msg = domain.TruncateErrorMessage(msg)

		a.sess.Status = domain.StatusFailed
		a.sess.ErrorMessage = msg
		a.sess.ProcessingTimeMs = elapsedMs
		a.persist(domain.ScanUpdate{
			Status:       statusPtr(domain.StatusFailed),
			ErrorMessage: strPtr(msg),
		})
		a.broadcast(domain.Event{Type: domain.EventError, Message: msg})
		a.notifyDashboard(domain.StatusFailed, "")
		a.logger.Error("scan failed", "elapsed_ms", elapsedMs, "error", m.err)

	default:
		// The repetition cut already happened in the pipeline; this is
		// the one place accumulated text may shrink.
		a.sess.AccumulatedText = m.finalText
		a.sess.Status = domain.StatusCompleted
		a.sess.ProcessingTimeMs = elapsedMs
		a.persist(domain.ScanUpdate{
			Status:           statusPtr(domain.StatusCompleted),
			Text:             strPtr(m.finalText),
			ProcessingTimeMs: int64Ptr(elapsedMs),
		})
		a.broadcast(domain.Event{
			Type:             domain.EventComplete,
			Text:             m.finalText,
			ProcessingTimeMs: elapsedMs,
		})
		a.notifyDashboard(domain.StatusCompleted, m.finalText)
		a.logger.Info("scan completed", "elapsed_ms", elapsedMs, "text_bytes", len(m.finalText))
	}

	a.deps.Metrics.RunFinished(a.sess.Status, m.elapsed)
}

func (a *Actor) broadcast(event domain.Event) {
	if dropped := a.hub.Broadcast(event); dropped > 0 {
		a.deps.Metrics.ObserverDropped(dropped)
		a.logger.Debug("dropped dead observers", "count", dropped)
	}
}

func (a *Actor) notifyDashboard(status domain.ScanStatus, text string) {
	if a.deps.Dashboards == nil || a.sess.OwnerID == "" {
		return
	}
	a.deps.Dashboards.NotifyTransition(a.sess.OwnerID, a.sess.ID, status, text)
}

func (a *Actor) persistStart(startedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := a.deps.Store.Ensure(ctx, a.sess.ID, a.sess.OwnerID); err != nil {
		a.logger.Error("ensure session row", "error", err)
	}
	total := a.sess.TotalPages
	a.persistCtx(ctx, domain.ScanUpdate{
		Status:       statusPtr(domain.StatusProcessing),
		Text:         strPtr(""),
		ErrorMessage: strPtr(""),
		TotalPages:   &total,
		StartedAt:    &startedAt,
	})
}

// persist is best effort: the actor stays authoritative for the run,
// and a lost write surfaces in logs rather than aborting the stream.
func (a *Actor) persist(update domain.ScanUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	a.persistCtx(ctx, update)
}

func (a *Actor) persistCtx(ctx context.Context, update domain.ScanUpdate) {
	if err := a.deps.Store.UpdateResult(ctx, a.sess.ID, update); err != nil {
		a.logger.Error("persist session update", "error", err)
	}
}

func (a *Actor) touch() {
	a.lastActive.Store(time.Now().UnixNano())
}

func (a *Actor) idle(cutoff time.Time) bool {
	return !a.processing.Load() &&
		a.hub.Len() == 0 &&
		a.lastActive.Load() < cutoff.UnixNano()
}

func (a *Actor) stop() {
	close(a.quit)
}

func statusPtr(s domain.ScanStatus) *domain.ScanStatus { return &s }
func strPtr(s string) *string                          { return &s }
func int64Ptr(v int64) *int64                          { return &v }
