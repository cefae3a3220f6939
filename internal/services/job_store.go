package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/findoc/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransitionFields are the values written together with a state change.
type TransitionFields struct {
	Progress   *int
	ResultText *string
	IsDegraded bool
	Error      *models.JobError
	At         time.Time
}

type ListFilter struct {
	Status models.JobStatus
	Page   int
	Limit  int
}

type JobStats struct {
	Total                    int64                      `json:"total"`
	ByStatus                 map[models.JobStatus]int64 `json:"byStatus"`
	Degraded                 int64                      `json:"degraded"`
	AverageProcessingSeconds float64                    `json:"averageProcessingSeconds"`
}

// JobStore persists analysis jobs. Every state change is a compare-and-swap on status.
type JobStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a pending job.
func (s *JobStore) Create(ctx context.Context, ownerID, documentID, query string) (*models.AnalysisJob, error) {
	if ownerID == "" || documentID == "" {
		return nil, errors.New("owner and document are required")
	}
	job := &models.AnalysisJob{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		DocumentID: documentID,
		Query:      query,
		Status:     models.JobStatusPending,
		Progress:   0,
		CreatedAt:  s.now(),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get returns the job if the requester may see it. Jobs owned by others read as not found.
func (s *JobStore) Get(ctx context.Context, id string, req Requester) (*models.AnalysisJob, error) {
	job, err := s.load(s.db.WithContext(ctx).Preload("Document"), id)
	if err != nil {
		return nil, err
	}
	if !req.canSee(job.OwnerID) {
		return nil, ErrNotFound
	}
	return job, nil
}

// GetInternal skips the ownership check. Executor use only.
func (s *JobStore) GetInternal(ctx context.Context, id string) (*models.AnalysisJob, error) {
	return s.load(s.db.WithContext(ctx).Preload("Document"), id)
}

func (s *JobStore) load(tx *gorm.DB, id string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return &job, nil
}

func validateTransition(from, to models.JobStatus, f TransitionFields) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	if f.Progress != nil && (*f.Progress < 0 || *f.Progress > 100) {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidState, *f.Progress)
	}
	switch to {
	case models.JobStatusProcessing:
		if f.ResultText != nil || f.Error != nil || f.IsDegraded {
			return fmt.Errorf("%w: processing job cannot carry a result or error", ErrInvalidState)
		}
	case models.JobStatusCompleted:
		if f.ResultText == nil || strings.TrimSpace(*f.ResultText) == "" {
			return fmt.Errorf("%w: completed job needs a result", ErrInvalidState)
		}
		if f.IsDegraded != (f.Error != nil) {
			return fmt.Errorf("%w: completed job carries an error only when degraded", ErrInvalidState)
		}
	case models.JobStatusFailed:
		if f.ResultText != nil || f.IsDegraded {
			return fmt.Errorf("%w: failed job cannot carry a result", ErrInvalidState)
		}
		if f.Error == nil {
			return fmt.Errorf("%w: failed job needs an error", ErrInvalidState)
		}
	}
	return nil
}

// Transition moves job id from one state to another atomically. When the job is
// no longer in from, nothing is written and a *ConflictError is returned.
func (s *JobStore) Transition(ctx context.Context, id string, from, to models.JobStatus, f TransitionFields) (*models.AnalysisJob, error) {
	if err := validateTransition(from, to, f); err != nil {
		return nil, err
	}
	at := f.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	var updated *models.AnalysisJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(lockForUpdate(tx), id)
		if errors.Is(err, ErrNotFound) {
			return &ConflictError{JobID: id, From: from, To: to}
		}
		if err != nil {
			return err
		}
		if current.Status != from {
			return &ConflictError{JobID: id, From: from, To: to, Actual: current.Status}
		}

		updates := map[string]interface{}{"status": to}
		if f.Progress != nil {
			updates["progress"] = *f.Progress
		}

		switch to {
		case models.JobStatusProcessing:
			updates["started_at"] = at
		case models.JobStatusCompleted, models.JobStatusFailed:
			completedAt := at
			if current.StartedAt != nil {
				if completedAt.Before(*current.StartedAt) {
					completedAt = *current.StartedAt
				}
				secs := completedAt.Sub(*current.StartedAt).Seconds()
				updates["processing_seconds"] = secs
			}
			updates["completed_at"] = completedAt
			updates["result_text"] = f.ResultText
			updates["is_degraded"] = f.IsDegraded
			if to == models.JobStatusCompleted {
				updates["progress"] = 100
			}
			if f.Error != nil {
				updates["error_kind"] = f.Error.Kind
				updates["error_message"] = f.Error.Message
			} else {
				updates["error_kind"] = nil
				updates["error_message"] = nil
			}
		}

		res := tx.Model(&models.AnalysisJob{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &ConflictError{JobID: id, From: from, To: to, Actual: current.Status}
		}

		updated, err = s.load(tx.Preload("Document"), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateProgress raises progress on a processing job. Lower values and
// non-processing jobs are ignored.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidState, pct)
	}
	err := s.db.WithContext(ctx).Model(&models.AnalysisJob{}).
		Where("id = ? AND status = ? AND progress < ?", id, models.JobStatusProcessing, pct).
		Update("progress", pct).Error
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// List returns the requester's jobs, newest first.
func (s *JobStore) List(ctx context.Context, req Requester, filter ListFilter) ([]models.AnalysisJob, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.AnalysisJob{})
	if !req.IsAdmin {
		query = query.Where("owner_id = ?", req.OwnerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	var jobs []models.AnalysisJob
	err := query.Preload("Document").
		Order("created_at DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// ListByStatus returns jobs of every owner in creation order.
func (s *JobStore) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.AnalysisJob, error) {
	var jobs []models.AnalysisJob
	query := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	return jobs, nil
}

// Delete soft-deletes a job that is not currently processing.
func (s *JobStore) Delete(ctx context.Context, id string, req Requester) (*models.AnalysisJob, error) {
	var deleted *models.AnalysisJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if !req.canSee(job.OwnerID) {
			return ErrNotFound
		}
		if job.Status == models.JobStatusProcessing {
			return ErrJobInProgress
		}

		res := tx.Where("id = ? AND status <> ?", id, models.JobStatusProcessing).Delete(&models.AnalysisJob{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrJobInProgress
		}
		deleted = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Stats aggregates the requester's jobs.
func (s *JobStore) Stats(ctx context.Context, req Requester) (*JobStats, error) {
	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.AnalysisJob{})
		if !req.IsAdmin {
			q = q.Where("owner_id = ?", req.OwnerID)
		}
		return q
	}

	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	if err := base().Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	stats := &JobStats{ByStatus: map[models.JobStatus]int64{
		models.JobStatusPending:    0,
		models.JobStatusProcessing: 0,
		models.JobStatusCompleted:  0,
		models.JobStatusFailed:     0,
	}}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.Count
		stats.Total += r.Count
	}

	if err := base().Where("status = ? AND is_degraded = ?", models.JobStatusCompleted, true).Count(&stats.Degraded).Error; err != nil {
		return nil, fmt.Errorf("failed to count degraded jobs: %w", err)
	}

	var avg struct{ Avg *float64 }
	if err := base().Select("AVG(processing_seconds) AS avg").
		Where("status = ? AND processing_seconds IS NOT NULL", models.JobStatusCompleted).
		Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("failed to average processing time: %w", err)
	}
	if avg.Avg != nil {
		stats.AverageProcessingSeconds = *avg.Avg
	}
	return stats, nil
}

// lockForUpdate adds FOR UPDATE where the dialect supports it; sqlite
// serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
