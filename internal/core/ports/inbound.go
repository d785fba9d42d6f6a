package ports

import (
	"context"
	"io"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

// ScanCoordinator is the inbound contract for per-document scan
// sessions. All operations return quickly regardless of an active run.
type ScanCoordinator interface {
	StartProcessing(ctx context.Context, documentID, ownerID string, sources []string, instructions string) error
	Cancel(ctx context.Context, documentID, ownerID string) error
	Reset(ctx context.Context, documentID string) error
	GetStatus(ctx context.Context, documentID string) (domain.StatusSnapshot, error)
	Connect(ctx context.Context, documentID string, conn ObserverConn) error
	Disconnect(documentID string, conn ObserverConn)
}

// DashboardService is the inbound contract for per-owner dashboards.
type DashboardService interface {
	Connect(ctx context.Context, ownerID string, conn ObserverConn) error
	Disconnect(ownerID string, conn ObserverConn)
}

// DocumentIngestor stores an uploaded source image and creates the
// durable session row for it.
type DocumentIngestor interface {
	Upload(ctx context.Context, ownerID, filename, mimeType string, body io.Reader) (*domain.ScanSession, error)
}
