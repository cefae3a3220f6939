package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/findoc/backend/internal/models"
	"gorm.io/gorm"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Get(ctx context.Context, id string, req Requester) (*models.Document, error) {
	var doc models.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if !req.canSee(doc.OwnerID) {
		return nil, ErrNotFound
	}
	return &doc, nil
}

// FindByHash returns the owner's earlier upload with the same content, if any.
func (r *DocumentRepository) FindByHash(ctx context.Context, ownerID, hash string) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND content_hash = ?", ownerID, hash).
		Order("created_at ASC").
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up document hash: %w", err)
	}
	return &doc, nil
}

type DocumentFilter struct {
	// Search matches a substring of the original filename.
	Search string
	Page   int
	Limit  int
}

type StorageStats struct {
	Documents  int64 `json:"documents"`
	TotalBytes int64 `json:"totalBytes"`
	Owners     int64 `json:"owners"`
}

// List pages through the requester's documents, newest first.
func (r *DocumentRepository) List(ctx context.Context, req Requester, filter DocumentFilter) ([]models.Document, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	query := r.db.WithContext(ctx).Model(&models.Document{})
	if !req.IsAdmin {
		query = query.Where("owner_id = ?", req.OwnerID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("LOWER(original_filename) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	var docs []models.Document
	err := query.Order("created_at DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&docs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, total, nil
}

// Delete removes a document together with its finished jobs. It is refused
// while any job on the document is pending or processing. The stored bytes
// are the caller's to remove once this returns.
func (r *DocumentRepository) Delete(ctx context.Context, id string, req Requester) (*models.Document, []models.AnalysisJob, error) {
	var (
		doc  models.Document
		jobs []models.AnalysisJob
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).Where("id = ?", id).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load document: %w", err)
		}
		if !req.canSee(doc.OwnerID) {
			return ErrNotFound
		}

		if err := lockForUpdate(tx).Where("document_id = ?", id).Find(&jobs).Error; err != nil {
			return fmt.Errorf("failed to load document jobs: %w", err)
		}
		for _, job := range jobs {
			if !job.Status.IsTerminal() {
				return ErrJobInProgress
			}
		}

		if len(jobs) > 0 {
			res := tx.Where("document_id = ? AND status IN ?", id,
				[]models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed}).
				Delete(&models.AnalysisJob{})
			if res.Error != nil {
				return fmt.Errorf("failed to delete document jobs: %w", res.Error)
			}
			if res.RowsAffected != int64(len(jobs)) {
				return ErrJobInProgress
			}
		}
		if err := tx.Delete(&doc).Error; err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &doc, jobs, nil
}

// Stats summarizes stored documents across all owners.
func (r *DocumentRepository) Stats(ctx context.Context) (*StorageStats, error) {
	var stats StorageStats
	err := r.db.WithContext(ctx).Model(&models.Document{}).
		Select("COUNT(*) AS documents, COALESCE(SUM(size), 0) AS total_bytes, COUNT(DISTINCT owner_id) AS owners").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate documents: %w", err)
	}
	return &stats, nil
}
