package job

import "time"

// EventKind tags the variants of Event.
type EventKind string

const (
	KindSubmitted EventKind = "submitted"
	KindProgress  EventKind = "progress"
	KindSuccess   EventKind = "success"
	KindError     EventKind = "error"
	KindTimeout   EventKind = "timeout"
)

// Event is emitted while a job is tracked. The set of implementations is closed:
// Submitted, Progress, Success, Failed and TimedOut.
type Event interface {
	Kind() EventKind
	sealed()
}

// Submitted is emitted once the inference service accepted the query.
type Submitted struct {
	JobID string
}

// Progress carries an intermediate step reported by the inference service.
// Transient progress is shown to the client but never stored.
type Progress struct {
	Title     string
	Message   string
	Transient bool
}

// Success carries the final answer and the analysis trail, if any.
type Success struct {
	Result  string
	History []string
}

// Failed is the terminal event for submit, protocol and external job errors.
type Failed struct {
	Message string
	Err     error
}

// TimedOut is the terminal event emitted when the polling budget is exhausted.
type TimedOut struct {
	Elapsed time.Duration
}

func (Submitted) Kind() EventKind { return KindSubmitted }
func (Progress) Kind() EventKind  { return KindProgress }
func (Success) Kind() EventKind   { return KindSuccess }
func (Failed) Kind() EventKind    { return KindError }
func (TimedOut) Kind() EventKind  { return KindTimeout }

func (Submitted) sealed() {}
func (Progress) sealed()  {}
func (Success) sealed()   {}
func (Failed) sealed()    {}
func (TimedOut) sealed()  {}

// IsTerminal reports whether e ends a tracking loop.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Success, Failed, TimedOut:
		return true
	default:
		return false
	}
}

// Text returns the progress message with its title prefix, the form stored as a system message.
func (p Progress) Text() string {
	if p.Title == "" {
		return p.Message
	}
	return "[" + p.Title + "] " + p.Message
}

// Step is the incremental step info attached to a status report.
type Step struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Report is a status payload parsed once at the gateway boundary.
type Report struct {
	JobID   string
	Status  Status
	Step    *Step
	Result  string
	History []string
	Error   string
}

// Failed reports whether the payload signals a job failure.
func (r Report) Failed() bool {
	return r.Status == StatusError || r.Error != ""
}
