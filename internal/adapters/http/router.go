package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/document-scan-service/internal/config"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
)

const backpressureWait = 100 * time.Millisecond

type Router struct {
	cfg        config.Config
	scans      ports.ScanCoordinator
	dashboards ports.DashboardService
	ingestor   ports.DocumentIngestor

	history ports.ScanHistory

	metricsHandler    http.Handler
	metricsMiddleware func(http.Handler) http.Handler
}

func NewRouter(
	cfg config.Config,
	scans ports.ScanCoordinator,
	dashboards ports.DashboardService,
	ingestor ports.DocumentIngestor,
) *Router {
	return &Router{
		cfg:        cfg,
		scans:      scans,
		dashboards: dashboards,
		ingestor:   ingestor,
	}
}

// WithHistory enables the dashboard session listing backed by the
// result store.
func (rt *Router) WithHistory(history ports.ScanHistory) *Router {
	rt.history = history
	return rt
}

// WithMetrics attaches the /metrics endpoint and the request metrics
// middleware. Kept optional so handler tests run without a registry.
func (rt *Router) WithMetrics(handler http.Handler, middleware func(http.Handler) http.Handler) *Router {
	rt.metricsHandler = handler
	rt.metricsMiddleware = middleware
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/scans/", rt.scanRoutes)
	mux.HandleFunc("/v1/dashboard/events", rt.dashboardEvents)
	if rt.history != nil {
		mux.HandleFunc("/v1/dashboard/sessions", rt.dashboardSessions)
	}
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}

	var handler http.Handler = mux
	if rt.metricsMiddleware != nil {
		handler = rt.metricsMiddleware(handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxConcurrent, backpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	sess, err := rt.ingestor.Upload(
		r.Context(),
		r.FormValue("owner_id"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// scanRoutes dispatches /v1/scans/{document_id}/{op}.
func (rt *Router) scanRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/scans/")
	documentID, op, _ := strings.Cut(rest, "/")
	if documentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	switch {
	case op == "status" && r.Method == http.MethodGet:
		rt.scanStatus(w, r, documentID)
	case op == "events" && r.Method == http.MethodGet:
		rt.scanEvents(w, r, documentID)
	case op == "start" && r.Method == http.MethodPost:
		rt.startScan(w, r, documentID)
	case op == "cancel" && r.Method == http.MethodPost:
		rt.cancelScan(w, r, documentID)
	case op == "reset" && r.Method == http.MethodPost:
		rt.resetScan(w, r, documentID)
	case op == "status" || op == "events" || op == "start" || op == "cancel" || op == "reset":
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown scan operation"})
	}
}

func (rt *Router) startScan(w http.ResponseWriter, r *http.Request, documentID string) {
	var req struct {
		OwnerID      string   `json:"owner_id"`
		Sources      []string `json:"sources"`
		Instructions string   `json:"instructions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := rt.scans.StartProcessing(r.Context(), documentID, req.OwnerID, req.Sources, req.Instructions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": documentID,
		"status":      "processing",
	})
}

func (rt *Router) cancelScan(w http.ResponseWriter, r *http.Request, documentID string) {
	var req struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := rt.scans.Cancel(r.Context(), documentID, req.OwnerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": documentID,
		"status":      "cancelling",
	})
}

func (rt *Router) resetScan(w http.ResponseWriter, r *http.Request, documentID string) {
	if err := rt.scans.Reset(r.Context(), documentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"document_id": documentID,
		"status":      "pending",
	})
}

func (rt *Router) scanStatus(w http.ResponseWriter, r *http.Request, documentID string) {
	snap, err := rt.scans.GetStatus(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// dashboardSessions returns the owner's recent sessions so a dashboard
// can resynchronize after a reconnect.
func (rt *Router) dashboardSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner"))
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner query parameter is required"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	sessions, err := rt.history.ListByOwner(r.Context(), ownerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
