package services

import (
	"context"
	"fmt"

	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/models"
	"gorm.io/gorm"
)

// HistoryRecorder appends audit events for jobs. Writes are best effort.
type HistoryRecorder struct {
	db *gorm.DB
}

func NewHistoryRecorder(db *gorm.DB) *HistoryRecorder {
	return &HistoryRecorder{db: db}
}

func (h *HistoryRecorder) Record(ctx context.Context, job *models.AnalysisJob, action models.EventAction, details string) {
	if h == nil || job == nil {
		return
	}
	event := models.AnalysisEvent{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Action:  action,
		Details: details,
	}
	if err := h.db.WithContext(ctx).Create(&event).Error; err != nil {
		logger.WithError(err, "history").WithField("job_id", job.ID).Warn("Failed to record analysis event")
	}
}

// List returns a job's events in order. Deleted jobs keep their history.
func (h *HistoryRecorder) List(ctx context.Context, jobID string, req Requester) ([]models.AnalysisEvent, error) {
	var events []models.AnalysisEvent
	if err := h.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at ASC, id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load analysis events: %w", err)
	}
	if len(events) == 0 || !req.canSee(events[0].OwnerID) {
		return nil, ErrNotFound
	}
	return events, nil
}
