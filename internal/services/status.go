package services

import (
	"context"
	"errors"
	"time"

	"github.com/findoc/backend/internal/cache"
	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/models"
)

const failureSummaryRunes = 160

const (
	MessagePending   = "Waiting for an available analysis worker"
	MessageRunning   = "Processing your document"
	MessageCompleted = "Analysis complete"
	MessageDegraded  = "Analysis complete with reduced confidence (fallback summary)"
	messageFailed    = "Analysis failed: "
)

// StatusSnapshot is what a poller sees.
type StatusSnapshot struct {
	JobID              string            `json:"jobId"`
	State              models.JobStatus  `json:"state"`
	Progress           int               `json:"progress"`
	Message            string            `json:"message"`
	IsDegraded         bool              `json:"isDegraded"`
	ErrorKind          *models.ErrorKind `json:"errorKind,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	StartedAt          *time.Time        `json:"startedAt,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	PollTimeoutSeconds int               `json:"pollTimeoutSeconds"`
}

// ResultSnapshot is the outcome of a terminal job.
type ResultSnapshot struct {
	JobID             string           `json:"jobId"`
	State             models.JobStatus `json:"state"`
	Query             string           `json:"query"`
	Filename          string           `json:"filename,omitempty"`
	ResultText        *string          `json:"resultText,omitempty"`
	IsDegraded        bool             `json:"isDegraded"`
	Error             *models.JobError `json:"error,omitempty"`
	ProcessingSeconds *float64         `json:"processingSeconds,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	CompletedAt       *time.Time       `json:"completedAt,omitempty"`
}

// terminalEntry is the cached form of a finished job.
type terminalEntry struct {
	OwnerID string         `json:"ownerId"`
	Status  StatusSnapshot `json:"status"`
	Result  ResultSnapshot `json:"result"`
}

// StatusService answers polls. Finished jobs never change, so their snapshots
// are served from the cache once seen.
type StatusService struct {
	jobs        *JobStore
	cache       cache.Cache
	ttl         time.Duration
	pollTimeout time.Duration
}

func NewStatusService(jobs *JobStore, c cache.Cache, ttl, pollTimeout time.Duration) *StatusService {
	if c == nil {
		c = cache.Noop{}
	}
	return &StatusService{jobs: jobs, cache: c, ttl: ttl, pollTimeout: pollTimeout}
}

func cacheKey(jobID string) string {
	return "job:" + jobID
}

func (s *StatusService) Status(ctx context.Context, jobID string, req Requester) (*StatusSnapshot, error) {
	if entry, ok := s.cached(ctx, jobID, req); ok {
		snap := entry.Status
		return &snap, nil
	}
	job, err := s.jobs.Get(ctx, jobID, req)
	if err != nil {
		return nil, err
	}
	entry := s.build(job)
	if job.Status.IsTerminal() {
		s.store(ctx, entry)
	}
	return &entry.Status, nil
}

// FetchResult returns ErrNotReady while the job is pending or processing.
func (s *StatusService) FetchResult(ctx context.Context, jobID string, req Requester) (*ResultSnapshot, error) {
	if entry, ok := s.cached(ctx, jobID, req); ok {
		res := entry.Result
		return &res, nil
	}
	job, err := s.jobs.Get(ctx, jobID, req)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, ErrNotReady
	}
	entry := s.build(job)
	s.store(ctx, entry)
	return &entry.Result, nil
}

// Forget drops a cached snapshot, used when a job is deleted.
func (s *StatusService) Forget(ctx context.Context, jobID string) {
	if err := s.cache.Delete(ctx, cacheKey(jobID)); err != nil {
		logger.WithError(err, "status").WithField("job_id", jobID).Warn("Failed to evict cached snapshot")
	}
}

func (s *StatusService) cached(ctx context.Context, jobID string, req Requester) (*terminalEntry, bool) {
	var entry terminalEntry
	err := s.cache.GetJSON(ctx, cacheKey(jobID), &entry)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logger.WithError(err, "status").Debug("Snapshot cache read failed")
		}
		return nil, false
	}
	if !req.canSee(entry.OwnerID) {
		return nil, false
	}
	return &entry, true
}

func (s *StatusService) store(ctx context.Context, entry *terminalEntry) {
	if err := s.cache.SetJSON(ctx, cacheKey(entry.Status.JobID), entry, s.ttl); err != nil {
		logger.WithError(err, "status").Debug("Snapshot cache write failed")
	}
}

func (s *StatusService) build(job *models.AnalysisJob) *terminalEntry {
	entry := &terminalEntry{
		OwnerID: job.OwnerID,
		Status: StatusSnapshot{
			JobID:              job.ID,
			State:              job.Status,
			Progress:           job.Progress,
			Message:            StatusMessage(job),
			IsDegraded:         job.IsDegraded,
			ErrorKind:          job.ErrorKind,
			CreatedAt:          job.CreatedAt,
			StartedAt:          job.StartedAt,
			CompletedAt:        job.CompletedAt,
			PollTimeoutSeconds: int(s.pollTimeout.Seconds()),
		},
		Result: ResultSnapshot{
			JobID:             job.ID,
			State:             job.Status,
			Query:             job.Query,
			ResultText:        job.ResultText,
			IsDegraded:        job.IsDegraded,
			Error:             job.ErrorDetail(),
			ProcessingSeconds: job.ProcessingSeconds,
			CreatedAt:         job.CreatedAt,
			CompletedAt:       job.CompletedAt,
		},
	}
	if job.Document != nil {
		entry.Result.Filename = job.Document.OriginalFilename
	}
	return entry
}

// StatusMessage is the human-readable line shown for a job's state.
func StatusMessage(job *models.AnalysisJob) string {
	switch job.Status {
	case models.JobStatusPending:
		return MessagePending
	case models.JobStatusProcessing:
		return MessageRunning
	case models.JobStatusCompleted:
		if job.IsDegraded {
			return MessageDegraded
		}
		return MessageCompleted
	case models.JobStatusFailed:
		summary := "unknown error"
		if d := job.ErrorDetail(); d != nil && d.Message != "" {
			summary = d.Message
		}
		return messageFailed + truncateRunes(summary, failureSummaryRunes)
	}
	return string(job.Status)
}
