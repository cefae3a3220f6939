package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/models"
)

// AnalysisService is the entry point used by the HTTP layer: submit, poll and
// fetch, plus listing and housekeeping of a user's jobs.
type AnalysisService struct {
	gate     *IngestionGate
	docs     *DocumentRepository
	jobs     *JobStore
	executor *Executor
	status   *StatusService
	history  *HistoryRecorder

	defaultQuery   string
	maxQueryLength int
}

type AnalysisDeps struct {
	Gate     *IngestionGate
	Docs     *DocumentRepository
	Jobs     *JobStore
	Executor *Executor
	Status   *StatusService
	History  *HistoryRecorder
}

func NewAnalysisService(deps AnalysisDeps, cfg config.AnalysisConfig) *AnalysisService {
	defaultQuery := strings.TrimSpace(cfg.DefaultQuery)
	if defaultQuery == "" {
		defaultQuery = config.DefaultQuery
	}
	maxLen := cfg.MaxQueryLength
	if maxLen <= 0 {
		maxLen = config.DefaultMaxQueryLen
	}
	return &AnalysisService{
		gate:           deps.Gate,
		docs:           deps.Docs,
		jobs:           deps.Jobs,
		executor:       deps.Executor,
		status:         deps.Status,
		history:        deps.History,
		defaultQuery:   defaultQuery,
		maxQueryLength: maxLen,
	}
}

// NormalizeQuery trims the query, substitutes the default for a blank one and
// caps its length.
func (s *AnalysisService) NormalizeQuery(query string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return s.defaultQuery
	}
	if r := []rune(q); len(r) > s.maxQueryLength {
		q = strings.TrimSpace(string(r[:s.maxQueryLength]))
	}
	return q
}

// SubmitDocument stages an upload and queues an analysis of it. Validation
// failures and a full executor are reported before anything is written.
func (s *AnalysisService) SubmitDocument(ctx context.Context, ownerID string, up Upload, query string) (*models.AnalysisJob, error) {
	checked, err := s.gate.Check(up)
	if err != nil {
		return nil, err
	}
	res, err := s.executor.Reserve()
	if err != nil {
		return nil, err
	}

	doc, err := s.gate.StageChecked(ctx, ownerID, checked)
	if err != nil {
		res.Release()
		return nil, err
	}
	return s.enqueue(ctx, res, ownerID, doc, query)
}

// StageDocument stores an upload without analyzing it.
func (s *AnalysisService) StageDocument(ctx context.Context, ownerID string, up Upload) (*models.Document, error) {
	return s.gate.Stage(ctx, ownerID, up)
}

// MaxUploadSize is the largest accepted document in bytes.
func (s *AnalysisService) MaxUploadSize() int64 {
	return s.gate.MaxSize()
}

// Submit queues a new analysis of a document the owner already uploaded.
func (s *AnalysisService) Submit(ctx context.Context, ownerID, documentID, query string) (*models.AnalysisJob, error) {
	doc, err := s.docs.Get(ctx, documentID, Requester{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	res, err := s.executor.Reserve()
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, res, ownerID, doc, query)
}

func (s *AnalysisService) enqueue(ctx context.Context, res *Reservation, ownerID string, doc *models.Document, query string) (*models.AnalysisJob, error) {
	job, err := s.jobs.Create(ctx, ownerID, doc.ID, s.NormalizeQuery(query))
	if err != nil {
		res.Release()
		return nil, err
	}
	job.Document = doc
	s.history.Record(ctx, job, models.EventCreated, "")

	if err := res.Dispatch(job.ID); err != nil {
		// shutting down between reserve and dispatch; Resume picks the job up after restart
		logger.WithJob(job.ID).Warn("Executor stopped before dispatch, job left pending")
		return nil, err
	}

	logger.WithJob(job.ID).WithField("owner_id", ownerID).WithField("document_id", doc.ID).Info("Analysis submitted")
	return job, nil
}

func (s *AnalysisService) Poll(ctx context.Context, jobID string, req Requester) (*StatusSnapshot, error) {
	return s.status.Status(ctx, jobID, req)
}

func (s *AnalysisService) FetchResult(ctx context.Context, jobID string, req Requester) (*ResultSnapshot, error) {
	return s.status.FetchResult(ctx, jobID, req)
}

func (s *AnalysisService) List(ctx context.Context, req Requester, filter ListFilter) ([]models.AnalysisJob, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidState, filter.Status)
	}
	return s.jobs.List(ctx, req, filter)
}

// Delete removes a job unless it is processing.
func (s *AnalysisService) Delete(ctx context.Context, jobID string, req Requester) error {
	job, err := s.jobs.Delete(ctx, jobID, req)
	if err != nil {
		return err
	}
	s.history.Record(ctx, job, models.EventDeleted, "")
	s.status.Forget(ctx, jobID)
	logger.WithJob(jobID).Info("Analysis deleted")
	return nil
}

func (s *AnalysisService) ListDocuments(ctx context.Context, req Requester, filter DocumentFilter) ([]models.Document, int64, error) {
	return s.docs.List(ctx, req, filter)
}

// DeleteDocument removes a document, its finished jobs and its stored bytes.
// It fails with ErrJobInProgress while an analysis of it is queued or running.
func (s *AnalysisService) DeleteDocument(ctx context.Context, documentID string, req Requester) error {
	doc, jobs, err := s.docs.Delete(ctx, documentID, req)
	if err != nil {
		return err
	}
	for i := range jobs {
		s.history.Record(ctx, &jobs[i], models.EventDeleted, "document deleted")
		s.status.Forget(ctx, jobs[i].ID)
	}
	s.gate.Discard(context.WithoutCancel(ctx), doc)

	logger.Info("Document deleted", map[string]interface{}{
		"document_id": doc.ID,
		"owner_id":    doc.OwnerID,
		"jobs":        len(jobs),
	})
	return nil
}

func (s *AnalysisService) StorageStats(ctx context.Context) (*StorageStats, error) {
	return s.docs.Stats(ctx)
}

func (s *AnalysisService) Stats(ctx context.Context, req Requester) (*JobStats, error) {
	return s.jobs.Stats(ctx, req)
}

func (s *AnalysisService) History(ctx context.Context, jobID string, req Requester) ([]models.AnalysisEvent, error) {
	return s.history.List(ctx, jobID, req)
}

// Job returns the full row, for administrators.
func (s *AnalysisService) Job(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	return s.jobs.Get(ctx, jobID, Requester{IsAdmin: true})
}

// Load reports executor occupancy for health checks.
func (s *AnalysisService) Load() (inFlight, capacity int) {
	return s.executor.InFlight(), s.executor.Capacity()
}
