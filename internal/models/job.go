package models

import (
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition lists the edges of the job lifecycle.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	}
	return false
}

type ErrorKind string

const (
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindAnalysis         ErrorKind = "analysis_error"
	ErrorKindExtraction       ErrorKind = "extraction_error"
	ErrorKindIncompleteResult ErrorKind = "incomplete_result"
	ErrorKindPanic            ErrorKind = "panic"
	ErrorKindInterrupted      ErrorKind = "interrupted"
)

// JobError is the structured cause recorded on failed or degraded jobs.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e JobError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// AnalysisJob is one analysis request and its lifecycle.
type AnalysisJob struct {
	ID                string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	OwnerID           string         `json:"ownerId" gorm:"type:varchar(64);not null;index"`
	DocumentID        string         `json:"documentId" gorm:"type:varchar(36);not null;index"`
	Query             string         `json:"query" gorm:"type:text;not null"`
	Status            JobStatus      `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	Progress          int            `json:"progress" gorm:"not null;default:0"`
	ResultText        *string        `json:"resultText,omitempty" gorm:"type:text"`
	IsDegraded        bool           `json:"isDegraded" gorm:"not null;default:false"`
	ErrorKind         *ErrorKind     `json:"errorKind,omitempty" gorm:"type:varchar(32)"`
	ErrorMessage      *string        `json:"errorMessage,omitempty" gorm:"type:text"`
	ProcessingSeconds *float64       `json:"processingSeconds,omitempty"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`

	Document *Document `json:"document,omitempty" gorm:"foreignKey:DocumentID;references:ID"`
}

func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// ErrorDetail returns the recorded cause, if any.
func (j *AnalysisJob) ErrorDetail() *JobError {
	if j.ErrorKind == nil {
		return nil
	}
	e := &JobError{Kind: *j.ErrorKind}
	if j.ErrorMessage != nil {
		e.Message = *j.ErrorMessage
	}
	return e
}
