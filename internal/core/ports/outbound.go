package ports

import (
	"context"
	"io"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

// ResultStore persists and reads durable scan session state. Updates are
// partial and idempotent; in-flight fan-out state never lives here.
type ResultStore interface {
	Create(ctx context.Context, sess *domain.ScanSession) error
	GetByID(ctx context.Context, id string) (*domain.ScanSession, error)
	Ensure(ctx context.Context, id, ownerID string) error
	UpdateResult(ctx context.Context, id string, update domain.ScanUpdate) error
}

// ScanHistory reads recent sessions for one owner, newest first.
type ScanHistory interface {
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.ScanSession, error)
}

// ObjectStorage stores and serves source page images.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// VisionClient streams text fragments extracted from one page image.
// The stream ends when the upstream emits its terminal marker; ctx
// cancellation aborts the in-flight call. onFragment is invoked in
// arrival order and is never called after GenerateStream returns.
type VisionClient interface {
	GenerateStream(ctx context.Context, prompt string, image []byte, onFragment func(text string) error) error
}

// ImagePreprocessor bounds the payload sent to the vision model.
type ImagePreprocessor interface {
	Downscale(data []byte, maxDim int) ([]byte, error)
}

// CommandBus carries administrative scan commands from the routing
// layer into the actor runtime.
type CommandBus interface {
	PublishCommand(ctx context.Context, cmd domain.ScanCommand) error
	SubscribeCommands(ctx context.Context, handler func(context.Context, domain.ScanCommand) error) error
}

// ObserverConn is one live transport connection. WriteEvent receives a
// single serialized event per call; a failed write means the connection
// is dead and will be dropped by the hub.
type ObserverConn interface {
	WriteEvent(payload []byte) error
}

// DashboardNotifier receives fire-and-forget status transitions keyed
// by owner. Implementations must not block the caller.
type DashboardNotifier interface {
	NotifyTransition(ownerID, documentID string, status domain.ScanStatus, text string)
}
