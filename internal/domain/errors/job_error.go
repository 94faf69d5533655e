// Package errors defines the error taxonomy for job submission, tracking and recovery.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a JobError.
type Kind string

const (
	// KindTransport covers connect, read and write failures. Retried at submit, skipped while polling.
	KindTransport Kind = "transport"
	// KindProtocol covers malformed payloads and a missing job id.
	KindProtocol Kind = "protocol"
	// KindExternalJob is an ERROR status or explicit error field from the inference service.
	KindExternalJob Kind = "external_job"
	KindTimeout     Kind = "timeout"
	// KindQuota is a rejected request; nothing was created, so nothing is refunded.
	KindQuota           Kind = "quota"
	KindRecoveryFailure Kind = "recovery_failure"
	// KindConflict is returned when a job is already running for the conversation.
	KindConflict Kind = "conflict"
)

// JobError represents a failure while submitting, tracking or recovering a job.
type JobError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *JobError) Unwrap() error {
	return e.Cause
}

// Is matches any JobError of the same kind, so errors.Is(err, ErrQuotaExceeded) works for wrapped copies.
func (e *JobError) Is(target error) bool {
	var t *JobError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// IsRetryable returns true only for transport failures.
func (e *JobError) IsRetryable() bool {
	return e.Kind == KindTransport
}

// WithJob attaches the job id to the error.
func (e *JobError) WithJob(jobID string) *JobError {
	e.JobID = jobID
	return e
}

// New creates a JobError.
func New(kind Kind, message string) *JobError {
	return &JobError{Kind: kind, Message: message}
}

// Wrap creates a JobError with an underlying cause.
func Wrap(err error, kind Kind, message string) *JobError {
	return &JobError{Kind: kind, Message: message, Cause: err}
}

// KindOf returns the kind of the first JobError in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}

// IsKind reports whether err carries a JobError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is a JobError that may be retried.
func IsRetryable(err error) bool {
	var je *JobError
	if errors.As(err, &je) {
		return je.IsRetryable()
	}
	return false
}

var (
	ErrQuotaExceeded = &JobError{Kind: KindQuota, Message: "daily request limit exceeded"}
	ErrJobPending    = &JobError{Kind: KindConflict, Message: "a request is waiting to be processed"}
	ErrJobInProgress = &JobError{Kind: KindConflict, Message: "an answer is being generated"}
	ErrMissingJobID  = &JobError{Kind: KindProtocol, Message: "inference service response has no job_id"}
)
