package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
)

// IngestScanUseCase stores an uploaded page image and creates the
// durable session row for it. Extraction itself starts later, through
// an explicit start command.
type IngestScanUseCase struct {
	store   ports.ResultStore
	storage ports.ObjectStorage
}

func NewIngestScanUseCase(store ports.ResultStore, storage ports.ObjectStorage) *IngestScanUseCase {
	return &IngestScanUseCase{
		store:   store,
		storage: storage,
	}
}

func (uc *IngestScanUseCase) Upload(
	ctx context.Context,
	ownerID, filename, mimeType string,
	body io.Reader,
) (*domain.ScanSession, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload page", fmt.Errorf("owner id is required"))
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload page", fmt.Errorf("unsupported content type %q", mimeType))
	}

	id := uuid.NewString()
	storageKey := id + "/" + sanitizeFilename(filename)
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save page image: %w", err)
	}

	sess := &domain.ScanSession{
		ID:        id,
		OwnerID:   ownerID,
		Status:    domain.StatusPending,
		Pages:     []string{storageKey},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create scan session: %w", err)
	}
	return sess, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "page.bin"
	}
	return base
}
