// Package job defines the lifecycle of an external inference job as seen by this service.
package job

import "strings"

// Status is the lowercased status reported for a job.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusProgress  Status = "progress"

	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"

	// StatusConnectionError means the inference service could not be reached
	// while asking for the status. It says nothing about the job itself.
	StatusConnectionError Status = "connection_error"
	StatusUnknown         Status = "unknown"
)

// ParseStatus normalizes a raw status value from the inference service.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "submitted", "queued":
		return StatusSubmitted
	case "pending":
		return StatusPending
	case "progress", "in_progress", "running":
		return StatusProgress
	case "success", "completed":
		return StatusSuccess
	case "error", "failed":
		return StatusError
	case "timeout":
		return StatusTimeout
	case "":
		return StatusUnknown
	default:
		return Status(strings.ToLower(strings.TrimSpace(raw)))
	}
}

// IsTerminal returns true once the job can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusTimeout
}

// IsActive returns true while the external job may still produce output.
func (s Status) IsActive() bool {
	return s == StatusSubmitted || s == StatusPending || s == StatusProgress
}

func (s Status) String() string {
	return string(s)
}
