package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

type ingestStoreFake struct {
	created *domain.ScanSession
	err     error
}

func (f *ingestStoreFake) Create(_ context.Context, sess *domain.ScanSession) error {
	if f.err != nil {
		return f.err
	}
	cp := *sess
	f.created = &cp
	return nil
}

func (f *ingestStoreFake) GetByID(context.Context, string) (*domain.ScanSession, error) {
	return nil, errors.New("not implemented")
}
func (f *ingestStoreFake) Ensure(context.Context, string, string) error {
	return errors.New("not implemented")
}
func (f *ingestStoreFake) UpdateResult(context.Context, string, domain.ScanUpdate) error {
	return errors.New("not implemented")
}

type ingestStorageFake struct {
	savedKey  string
	savedBody string
	err       error
}

func (f *ingestStorageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *ingestStorageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func TestUploadStoresImageAndCreatesSession(t *testing.T) {
	store := &ingestStoreFake{}
	storage := &ingestStorageFake{}
	uc := NewIngestScanUseCase(store, storage)

	sess, err := uc.Upload(context.Background(), "owner-1", "My Scan 1.jpg", "image/jpeg", strings.NewReader("jpeg bytes"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if sess.Status != domain.StatusPending || sess.OwnerID != "owner-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if storage.savedBody != "jpeg bytes" {
		t.Fatalf("storage got %q", storage.savedBody)
	}
	if want := sess.ID + "/My_Scan_1.jpg"; storage.savedKey != want {
		t.Fatalf("storage key = %q, want %q", storage.savedKey, want)
	}
	if store.created == nil || len(store.created.Pages) != 1 || store.created.Pages[0] != storage.savedKey {
		t.Fatalf("created session = %+v", store.created)
	}
}

func TestUploadRejectsNonImageContent(t *testing.T) {
	uc := NewIngestScanUseCase(&ingestStoreFake{}, &ingestStorageFake{})

	_, err := uc.Upload(context.Background(), "owner-1", "doc.pdf", "application/pdf", strings.NewReader("x"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUploadRequiresOwner(t *testing.T) {
	uc := NewIngestScanUseCase(&ingestStoreFake{}, &ingestStorageFake{})

	_, err := uc.Upload(context.Background(), "  ", "page.jpg", "image/jpeg", strings.NewReader("x"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUploadPropagatesStorageFailure(t *testing.T) {
	storage := &ingestStorageFake{err: errors.New("disk full")}
	uc := NewIngestScanUseCase(&ingestStoreFake{}, storage)

	_, err := uc.Upload(context.Background(), "owner-1", "page.jpg", "image/jpeg", strings.NewReader("x"))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected storage failure, got %v", err)
	}
}
