package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/models"
	"github.com/findoc/backend/internal/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const pdfMimeType = "application/pdf"

var allowedExtensions = map[string]struct{}{
	"pdf": {},
}

// declared content types browsers and clients send for PDFs
var allowedDeclaredTypes = map[string]struct{}{
	"":                         {},
	pdfMimeType:                {},
	"application/x-pdf":        {},
	"application/octet-stream": {},
}

// Upload is a document as received from a client.
type Upload struct {
	Filename string
	MimeType string
	Content  []byte
}

// IngestionGate validates uploads and stages them in storage. It never creates jobs.
type IngestionGate struct {
	docs    *DocumentRepository
	store   storage.Storage
	maxSize int64
	detect  func([]byte) *mimetype.MIME
}

func NewIngestionGate(docs *DocumentRepository, store storage.Storage, maxSize int64) *IngestionGate {
	return &IngestionGate{docs: docs, store: store, maxSize: maxSize, detect: mimetype.Detect}
}

// CheckedUpload is an upload that passed validation. Only Check creates one.
type CheckedUpload struct {
	up Upload
}

func (g *IngestionGate) MaxSize() int64 {
	return g.maxSize
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Validate checks an upload without touching storage.
func (g *IngestionGate) Validate(up Upload) error {
	_, err := g.Check(up)
	return err
}

// Check validates an upload once so it can be staged later without re-sniffing.
func (g *IngestionGate) Check(up Upload) (CheckedUpload, error) {
	if err := g.validate(up); err != nil {
		return CheckedUpload{}, err
	}
	return CheckedUpload{up: up}, nil
}

func (g *IngestionGate) validate(up Upload) error {
	if len(up.Content) == 0 {
		return newValidationError(ValidationEmpty, "uploaded file is empty")
	}
	if int64(len(up.Content)) > g.maxSize {
		return newValidationError(ValidationTooLarge, "file exceeds the maximum size of %d MB", g.maxSize/(1024*1024))
	}

	name := strings.TrimSpace(up.Filename)
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return newValidationError(ValidationInvalidName, "invalid filename")
	}
	if _, ok := allowedExtensions[normalizeExt(filepath.Ext(name))]; !ok {
		return newValidationError(ValidationUnsupportedType, "only PDF files are supported")
	}

	declared := strings.ToLower(strings.TrimSpace(strings.SplitN(up.MimeType, ";", 2)[0]))
	if _, ok := allowedDeclaredTypes[declared]; !ok {
		return newValidationError(ValidationUnsupportedType, "unsupported content type %q", up.MimeType)
	}
	if detected := g.detect(up.Content); !detected.Is(pdfMimeType) {
		return newValidationError(ValidationUnsupportedType, "file content is %s, not a PDF", detected.String())
	}
	return nil
}

// Stage validates the upload, writes it to storage and records the document.
// Either both the stored object and the row exist afterwards, or neither does.
func (g *IngestionGate) Stage(ctx context.Context, ownerID string, up Upload) (*models.Document, error) {
	checked, err := g.Check(up)
	if err != nil {
		return nil, err
	}
	return g.StageChecked(ctx, ownerID, checked)
}

// StageChecked stages an upload that already passed Check.
func (g *IngestionGate) StageChecked(ctx context.Context, ownerID string, checked CheckedUpload) (*models.Document, error) {
	up := checked.up
	if len(up.Content) == 0 {
		return nil, newValidationError(ValidationEmpty, "uploaded file is empty")
	}

	sum := sha256.Sum256(up.Content)
	hash := hex.EncodeToString(sum[:])

	if prev, err := g.docs.FindByHash(ctx, ownerID, hash); err != nil {
		logger.WithError(err, "ingestion").Warn("Duplicate lookup failed")
	} else if prev != nil {
		logger.Info("Document uploaded again", map[string]interface{}{
			"owner_id":     ownerID,
			"previous_id":  prev.ID,
			"content_hash": hash,
		})
	}

	id := uuid.NewString()
	doc := &models.Document{
		ID:               id,
		OwnerID:          ownerID,
		OriginalFilename: strings.TrimSpace(up.Filename),
		StorageKey:       fmt.Sprintf("documents/%s/%s.pdf", id[:2], id),
		Size:             int64(len(up.Content)),
		MimeType:         pdfMimeType,
		ContentHash:      hash,
	}

	if err := g.store.Put(ctx, doc.StorageKey, up.Content, pdfMimeType); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := g.docs.Create(ctx, doc); err != nil {
		if delErr := g.store.Delete(context.WithoutCancel(ctx), doc.StorageKey); delErr != nil {
			logger.WithError(delErr, "ingestion").WithField("storage_key", doc.StorageKey).Error("Failed to remove orphaned upload")
		}
		return nil, err
	}

	logger.Info("Document staged", map[string]interface{}{
		"document_id": doc.ID,
		"owner_id":    ownerID,
		"size":        doc.Size,
	})
	return doc, nil
}

// Discard removes a deleted document's stored bytes. A failure leaves an
// orphaned object behind and is only logged.
func (g *IngestionGate) Discard(ctx context.Context, doc *models.Document) {
	if err := g.store.Delete(ctx, doc.StorageKey); err != nil {
		logger.WithError(err, "ingestion").WithField("storage_key", doc.StorageKey).Error("Failed to remove stored document")
	}
}
