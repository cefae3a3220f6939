package services

import (
	"errors"
	"fmt"

	"github.com/findoc/backend/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("state conflict")
	ErrNotReady      = errors.New("analysis not finished")
	ErrServiceBusy   = errors.New("analysis service busy, retry later")
	ErrJobInProgress = errors.New("analysis is in progress")
	ErrInvalidState  = errors.New("invalid job state change")
)

// ConflictError reports a compare-and-swap transition that lost.
type ConflictError struct {
	JobID  string
	From   models.JobStatus
	To     models.JobStatus
	Actual models.JobStatus // empty when the job vanished
}

func (e *ConflictError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("job %s: transition %s -> %s lost: job not found", e.JobID, e.From, e.To)
	}
	return fmt.Sprintf("job %s: transition %s -> %s lost: job is %s", e.JobID, e.From, e.To, e.Actual)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type ValidationKind string

const (
	ValidationTooLarge        ValidationKind = "too_large"
	ValidationUnsupportedType ValidationKind = "unsupported_type"
	ValidationEmpty           ValidationKind = "empty"
	ValidationInvalidName     ValidationKind = "invalid_filename"
)

// ValidationError is returned by ingestion for rejected uploads.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(kind ValidationKind, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError of the given kind (any kind if empty).
func IsValidation(err error, kind ValidationKind) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	return kind == "" || ve.Kind == kind
}

// Requester identifies who is asking. Admins bypass ownership checks.
type Requester struct {
	OwnerID string
	IsAdmin bool
}

func (r Requester) canSee(ownerID string) bool {
	return r.IsAdmin || (r.OwnerID != "" && r.OwnerID == ownerID)
}
