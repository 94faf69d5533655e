// Package chat turns a user query into a tracked job and relays its events to the client.
package chat

import (
	"sync"
	"time"

	"jan-server/services/research-api/internal/domain/job"
)

const (
	streamBuffer = 64
	// attachedSendTimeout is how long a full buffer may block the tracking loop before the
	// consumer is treated as gone.
	attachedSendTimeout = 5 * time.Second
)

// Stream event statuses.
const (
	EventSubmitted = "submitted"
	EventProgress  = "progress"
	EventSuccess   = "success"
	EventError     = "error"
)

// TimeoutMessage is shown when the polling budget ran out.
const TimeoutMessage = "The request timed out. Please try again."

// ChatJob is the unit of work handed to the runner, directly or through the broker.
type ChatJob struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	Model          string `json:"model"`
	UserID         string `json:"user_id"`
	RootMessageID  uint   `json:"root_message_id"`
	IsStaff        bool   `json:"is_staff"`
}

// StreamEvent is one JSON frame pushed to the client.
type StreamEvent struct {
	Status    string `json:"status"`
	JobID     string `json:"job_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	MessageID uint   `json:"message_id,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Status == EventSuccess || e.Status == EventError
}

// JobResult is published to the result exchange when a job ends.
type JobResult struct {
	ConversationID string     `json:"conversation_id"`
	JobID          string     `json:"job_id,omitempty"`
	Status         job.Status `json:"status"`
	Content        string     `json:"content"`
	RootMessageID  uint       `json:"root_message_id"`
	MessageID      uint       `json:"message_id,omitempty"`
}

// Stream connects one tracking loop to at most one consumer. The producer outlives the
// consumer: after Detach, events are dropped instead of blocking. A consumer that stops
// reading without detaching is detached once the buffer stays full for sendTimeout.
type Stream struct {
	events      chan StreamEvent
	done        chan struct{}
	detached    sync.Once
	sendTimeout time.Duration
}

func newStream() *Stream {
	return &Stream{
		events:      make(chan StreamEvent, streamBuffer),
		done:        make(chan struct{}),
		sendTimeout: attachedSendTimeout,
	}
}

// Replay returns a finished stream that yields events in order.
func Replay(events ...StreamEvent) *Stream {
	s := &Stream{
		events: make(chan StreamEvent, len(events)),
		done:   make(chan struct{}),
	}
	for _, ev := range events {
		s.events <- ev
	}
	close(s.events)
	return s
}

// Events is closed after the terminal event.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Detach tells the producer that nobody reads anymore. Safe to call more than once.
func (s *Stream) Detach() {
	s.detached.Do(func() { close(s.done) })
}

func (s *Stream) send(ev StreamEvent) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.events <- ev:
	case <-s.done:
	case <-timer.C:
		s.Detach()
	}
}

func (s *Stream) close() {
	close(s.events)
}
