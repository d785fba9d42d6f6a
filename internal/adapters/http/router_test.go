package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-scan-service/internal/config"
	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
)

type startCall struct {
	documentID   string
	ownerID      string
	sources      []string
	instructions string
}

type scanFake struct {
	mu           sync.Mutex
	starts       []startCall
	cancels      []string
	resets       []string
	disconnects  int
	startErr     error
	cancelErr    error
	resetErr     error
	snap         domain.StatusSnapshot
	connectEvent []byte
	connected    chan struct{}
}

func (f *scanFake) StartProcessing(_ context.Context, documentID, ownerID string, sources []string, instructions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startCall{documentID, ownerID, sources, instructions})
	return f.startErr
}

func (f *scanFake) Cancel(_ context.Context, documentID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, documentID)
	return f.cancelErr
}

func (f *scanFake) Reset(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, documentID)
	return f.resetErr
}

func (f *scanFake) GetStatus(context.Context, string) (domain.StatusSnapshot, error) {
	return f.snap, nil
}

func (f *scanFake) Connect(_ context.Context, _ string, conn ports.ObserverConn) error {
	if f.connectEvent != nil {
		if err := conn.WriteEvent(f.connectEvent); err != nil {
			return err
		}
	}
	if f.connected != nil {
		close(f.connected)
	}
	return nil
}

func (f *scanFake) Disconnect(string, ports.ObserverConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

type dashboardFake struct {
	connectErr error
}

func (f *dashboardFake) Connect(context.Context, string, ports.ObserverConn) error {
	return f.connectErr
}
func (f *dashboardFake) Disconnect(string, ports.ObserverConn) {}

type ingestorFake struct {
	ownerID  string
	filename string
	mimeType string
	body     string
	err      error
}

func (f *ingestorFake) Upload(_ context.Context, ownerID, filename, mimeType string, body io.Reader) (*domain.ScanSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, _ := io.ReadAll(body)
	f.ownerID = ownerID
	f.filename = filename
	f.mimeType = mimeType
	f.body = string(raw)
	return &domain.ScanSession{ID: "doc-new", OwnerID: ownerID, Status: domain.StatusPending}, nil
}

func newTestHandler(cfg config.Config, scans *scanFake, ingestor *ingestorFake) http.Handler {
	if scans == nil {
		scans = &scanFake{}
	}
	if ingestor == nil {
		ingestor = &ingestorFake{}
	}
	return NewRouter(cfg, scans, &dashboardFake{}, ingestor).Handler()
}

func TestStartScanAcceptsRequest(t *testing.T) {
	scans := &scanFake{}
	handler := newTestHandler(config.Config{}, scans, nil)

	payload := `{"owner_id":"owner-1","sources":["doc-1/page-1.jpg"],"instructions":"tables as text"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/scans/doc-1/start", strings.NewReader(payload))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(scans.starts) != 1 {
		t.Fatalf("expected one start call, got %d", len(scans.starts))
	}
	call := scans.starts[0]
	if call.documentID != "doc-1" || call.ownerID != "owner-1" ||
		len(call.sources) != 1 || call.instructions != "tables as text" {
		t.Fatalf("unexpected start call: %+v", call)
	}
}

func TestStartScanConflictWhileProcessing(t *testing.T) {
	scans := &scanFake{
		startErr: domain.WrapError(domain.ErrAlreadyProcessing, "start scan", errors.New("busy")),
	}
	handler := newTestHandler(config.Config{}, scans, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/scans/doc-1/start", strings.NewReader(`{"owner_id":"owner-1"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestCancelWithoutRunMapsToConflict(t *testing.T) {
	scans := &scanFake{
		cancelErr: domain.WrapError(domain.ErrNotProcessing, "cancel scan", errors.New("no active run")),
	}
	handler := newTestHandler(config.Config{}, scans, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/scans/doc-1/cancel", strings.NewReader(`{"owner_id":"owner-1"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestScanStatusReturnsSnapshot(t *testing.T) {
	scans := &scanFake{
		snap: domain.StatusSnapshot{
			ID:         "doc-1",
			Status:     domain.StatusProcessing,
			Processing: true,
			TextLength: 42,
		},
	}
	handler := newTestHandler(config.Config{}, scans, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/scans/doc-1/status", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var snap domain.StatusSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ID != "doc-1" || !snap.Processing || snap.TextLength != 42 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestResetScanReturnsPending(t *testing.T) {
	scans := &scanFake{}
	handler := newTestHandler(config.Config{}, scans, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/scans/doc-1/reset", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(scans.resets) != 1 || scans.resets[0] != "doc-1" {
		t.Fatalf("unexpected reset calls: %v", scans.resets)
	}
}

func TestUnknownScanOperationReturns404(t *testing.T) {
	handler := newTestHandler(config.Config{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/scans/doc-1/retry", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestUploadDocumentStoresPage(t *testing.T) {
	ingestor := &ingestorFake{}
	handler := newTestHandler(config.Config{}, nil, ingestor)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("owner_id", "owner-1"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile("file", "scan.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("jpeg bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if ingestor.ownerID != "owner-1" || ingestor.filename != "scan.jpg" || ingestor.body != "jpeg bytes" {
		t.Fatalf("unexpected upload: %+v", ingestor)
	}
}

func TestUploadDocumentRequiresFile(t *testing.T) {
	handler := newTestHandler(config.Config{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("not multipart"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

type historyFake struct {
	ownerID  string
	limit    int
	sessions []domain.ScanSession
}

func (f *historyFake) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.ScanSession, error) {
	f.ownerID = ownerID
	f.limit = limit
	return f.sessions, nil
}

func TestDashboardSessionsListsOwnerHistory(t *testing.T) {
	history := &historyFake{
		sessions: []domain.ScanSession{
			{ID: "doc-2", OwnerID: "owner-1", Status: domain.StatusCompleted},
			{ID: "doc-1", OwnerID: "owner-1", Status: domain.StatusFailed},
		},
	}
	handler := NewRouter(config.Config{}, &scanFake{}, &dashboardFake{}, &ingestorFake{}).
		WithHistory(history).
		Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard/sessions?owner=owner-1&limit=10", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if history.ownerID != "owner-1" || history.limit != 10 {
		t.Fatalf("unexpected list call: owner=%q limit=%d", history.ownerID, history.limit)
	}
	var resp struct {
		Sessions []domain.ScanSession `json:"sessions"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(resp.Sessions) != 2 || resp.Sessions[0].ID != "doc-2" {
		t.Fatalf("unexpected sessions: %+v", resp.Sessions)
	}
}

func TestDashboardEventsRequiresOwner(t *testing.T) {
	handler := newTestHandler(config.Config{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard/events", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestScanEventsStreamsAndDetaches(t *testing.T) {
	scans := &scanFake{
		connectEvent: []byte(`{"type":"connected"}`),
		connected:    make(chan struct{}),
	}
	handler := newTestHandler(config.Config{}, scans, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/scans/doc-1/events", nil).WithContext(ctx)
	res := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(res, req)
		close(done)
	}()

	select {
	case <-scans.connected:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for observer attach")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for handler return")
	}

	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(res.Body.String(), `data: {"type":"connected"}`) {
		t.Fatalf("missing connected event in stream: %q", res.Body.String())
	}

	scans.mu.Lock()
	disconnects := scans.disconnects
	scans.mu.Unlock()
	if disconnects != 1 {
		t.Fatalf("expected one disconnect, got %d", disconnects)
	}
}
