// Package worker consumes queued chat jobs and tracks them until they finish.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/chat"
	"jan-server/services/research-api/internal/infrastructure/queue"
)

// Worker runs one consumer on the job queue.
type Worker struct {
	id         int
	consumer   queue.Consumer
	runner     chat.Starter
	queueName  string
	retryDelay time.Duration
	log        zerolog.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewWorker creates a new background worker.
func NewWorker(
	id int,
	consumer queue.Consumer,
	runner chat.Starter,
	queueName string,
	retryDelay time.Duration,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		id:         id,
		consumer:   consumer,
		runner:     runner,
		queueName:  queueName,
		retryDelay: retryDelay,
		log:        log.With().Int("worker_id", id).Str("component", "worker").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start consumes until ctx is done or Stop is called. A broken consumer is restarted after retryDelay.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Msg("worker started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		err := w.consumer.Consume(ctx, w.queueName, w.Handle)
		if ctx.Err() != nil {
			w.log.Info().Msg("worker stopped")
			return
		}
		if err != nil {
			w.log.Error().Err(err).Dur("retry_in", w.retryDelay).Msg("consumer failed")
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return
		case <-time.After(w.retryDelay):
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// Handle decodes a queued job, starts it and waits for its terminal event. Only undecodable
// messages and jobs that could not be started are returned as errors; a job that ends in
// error has already been reported to its conversation.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	var job chat.ChatJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		return fmt.Errorf("decode job %s: %w", d.MessageID, err)
	}
	if job.ConversationID == "" || job.Query == "" || job.RootMessageID == 0 {
		return fmt.Errorf("job %s is missing conversation, query or root message", d.MessageID)
	}

	log := w.log.With().
		Str("message_id", d.MessageID).
		Str("conversation_id", job.ConversationID).
		Logger()
	log.Info().Bool("redelivered", d.Redelivered).Msg("processing queued job")

	stream, err := w.runner.Start(ctx, job)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}

	last := chat.StreamEvent{}
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				log.Info().Str("status", last.Status).Str("job_id", last.JobID).Msg("queued job finished")
				return nil
			}
			last = ev
		case <-ctx.Done():
			stream.Detach()
			log.Warn().Msg("worker stopping, job keeps running detached")
			return nil
		}
	}
}
