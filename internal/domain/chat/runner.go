package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/delivery"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/infrastructure/inference"
	"jan-server/services/research-api/internal/infrastructure/metrics"
	"jan-server/services/research-api/internal/infrastructure/observability"
)

const (
	// trackSlack is added to the inference budget so the gateway times out before the runner does.
	trackSlack      = 30 * time.Second
	cleanupDeadline = 15 * time.Second
)

// Gateway is the inference protocol the runner consumes.
type Gateway interface {
	Track(ctx context.Context, query, model string, onTick ...inference.Tick) <-chan job.Event
	Resume(ctx context.Context, jobID string, onTick ...inference.Tick) <-chan job.Event
}

// Heartbeat marks a tracking loop as alive.
type Heartbeat interface {
	Start(ctx context.Context, conversationID string) error
	Refresh(ctx context.Context, conversationID string) error
	Stop(ctx context.Context, conversationID string) error
}

// Refunder gives back a quota slot.
type Refunder interface {
	Decrement(ctx context.Context, userID string) error
}

// ResultPublisher announces terminal results on the broker.
type ResultPublisher interface {
	PublishResult(ctx context.Context, routingKey string, payload any) error
}

// Mailbox delivers the answer to users who asked for it by email.
type Mailbox interface {
	Flush(ctx context.Context, conversationID string, content delivery.Content) ([]string, error)
}

// Store is the conversation state the runner reads and writes.
type Store interface {
	FindConversation(ctx context.Context, publicID string) (*conversation.Conversation, error)
	LoadConversation(ctx context.Context, publicID string) (*conversation.Conversation, error)
	UpdateConversation(ctx context.Context, publicID string, patch conversation.Patch) (*conversation.Conversation, error)
	AddMessage(ctx context.Context, conversationID uint, content string, role conversation.Role, rootMessageID *uint, metadata map[string]any) (*conversation.Message, error)
	Finalize(ctx context.Context, conversationID uint, rootMessageID uint, result string, history []string) (*conversation.Message, error)
}

// Runner owns detached job-tracking loops. Each loop persists every event, keeps the
// heartbeat fresh and forwards events to whichever client is attached.
type Runner struct {
	gateway   Gateway
	store     Store
	heartbeat Heartbeat
	refunds   Refunder
	results   ResultPublisher
	mailbox   Mailbox
	timeout   time.Duration
	log       zerolog.Logger

	wg sync.WaitGroup
}

// NewRunner builds a runner. budget is the inference polling budget.
func NewRunner(gateway Gateway, store Store, heartbeat Heartbeat, refunds Refunder, results ResultPublisher, mailbox Mailbox, budget time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		gateway:   gateway,
		store:     store,
		heartbeat: heartbeat,
		refunds:   refunds,
		results:   results,
		mailbox:   mailbox,
		timeout:   budget + trackSlack,
		log:       log.With().Str("component", "job-runner").Logger(),
	}
}

type run struct {
	conversationID string
	conversationPK uint
	rootMessageID  uint
	userID         string
	refund         bool
	query          string
	mode           string
	jobID          string
}

// Start submits req and tracks it in the background. The returned stream may be read or
// detached; the job keeps running either way.
func (r *Runner) Start(ctx context.Context, req ChatJob) (*Stream, error) {
	conv, err := r.store.FindConversation(conversation.WithFreshReads(ctx), req.ConversationID)
	if err != nil {
		return nil, err
	}

	rn := &run{
		conversationID: conv.PublicID,
		conversationPK: conv.ID,
		rootMessageID:  req.RootMessageID,
		userID:         req.UserID,
		refund:         !req.IsStaff,
		query:          req.Query,
		mode:           "submit",
	}

	runCtx, cancel := r.detach(ctx)
	stream := newStream()
	events := r.gateway.Track(runCtx, req.Query, req.Model, r.tick(rn))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.loop(runCtx, rn, events, stream)
	}()
	return stream, nil
}

// Resume restarts tracking of an already submitted job for a conversation. Nobody is
// attached to the stream; results are only persisted. Only the conversation's latest job
// can be resumed, and its answer goes to the user message it was submitted for.
func (r *Runner) Resume(ctx context.Context, conversationID, jobID string) error {
	conv, err := r.store.LoadConversation(conversation.WithFreshReads(ctx), conversationID)
	if err != nil {
		return err
	}
	if latest := conv.JobID(); latest != jobID {
		return fmt.Errorf("job %s of conversation %s was superseded by %q", jobID, conversationID, latest)
	}
	root := conv.JobRoot()
	if root == nil {
		return fmt.Errorf("conversation %s has no recorded question for job %s", conversationID, jobID)
	}

	rn := &run{
		conversationID: conv.PublicID,
		conversationPK: conv.ID,
		rootMessageID:  root.ID,
		userID:         conv.UserID,
		refund:         true,
		query:          root.Content,
		mode:           "resume",
		jobID:          jobID,
	}

	if err := r.heartbeat.Start(ctx, conv.PublicID); err != nil {
		return fmt.Errorf("start heartbeat: %w", err)
	}

	runCtx, cancel := r.detach(ctx)
	stream := newStream()
	stream.Detach()
	events := r.gateway.Resume(runCtx, jobID, r.tick(rn))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.loop(runCtx, rn, events, stream)
	}()

	r.log.Info().Str("conversation_id", conv.PublicID).Str("job_id", jobID).Msg("tracking resumed")
	return nil
}

// Wait blocks until all loops have exited or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

func (r *Runner) tick(rn *run) inference.Tick {
	return func(ctx context.Context, _ string) {
		if err := r.heartbeat.Refresh(ctx, rn.conversationID); err != nil {
			r.log.Warn().Err(err).Str("conversation_id", rn.conversationID).Msg("heartbeat refresh failed")
		}
	}
}

func (r *Runner) loop(ctx context.Context, rn *run, events <-chan job.Event, stream *Stream) {
	ctx, span := observability.StartJobSpan(ctx, rn.conversationID, rn.jobID, rn.mode)
	log := r.log.With().Str("conversation_id", rn.conversationID).Str("mode", rn.mode).Logger()

	var runErr error
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupDeadline)
		defer cancel()
		if err := r.heartbeat.Stop(cleanup, rn.conversationID); err != nil {
			log.Warn().Err(err).Msg("failed to stop heartbeat")
		}
		observability.EndSpan(span, runErr)
		stream.close()
	}()

	for ev := range events {
		switch e := ev.(type) {
		case job.Submitted:
			r.onSubmitted(ctx, rn, e, stream, log)
		case job.Progress:
			r.onProgress(ctx, rn, e, span, stream, log)
		case job.Success:
			r.onSuccess(ctx, rn, e, stream, log)
		case job.Failed:
			runErr = errors.New(e.Message)
			r.onFailure(ctx, rn, e.Message, stream, log)
		case job.TimedOut:
			runErr = errors.New(TimeoutMessage)
			r.onFailure(ctx, rn, TimeoutMessage, stream, log)
		}
	}
}

func (r *Runner) onSubmitted(ctx context.Context, rn *run, e job.Submitted, stream *Stream, log zerolog.Logger) {
	rn.jobID = e.JobID
	jobID := e.JobID
	root := rn.rootMessageID
	if _, err := r.store.UpdateConversation(ctx, rn.conversationID, conversation.Patch{
		LatestJobID:     &jobID,
		LatestJobRootID: &root,
	}); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to record job id")
	}
	if err := r.heartbeat.Start(ctx, rn.conversationID); err != nil {
		log.Warn().Err(err).Msg("failed to start heartbeat")
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.JobAttributes(rn.conversationID, jobID, rn.mode)...)

	r.forward(stream, StreamEvent{Status: EventSubmitted, JobID: jobID})
}

func (r *Runner) onProgress(ctx context.Context, rn *run, e job.Progress, span trace.Span, stream *Stream, log zerolog.Logger) {
	if err := r.heartbeat.Refresh(ctx, rn.conversationID); err != nil {
		log.Warn().Err(err).Msg("heartbeat refresh failed")
	}

	if !e.Transient {
		root := rn.rootMessageID
		if _, err := r.store.AddMessage(ctx, rn.conversationPK, e.Text(), conversation.RoleSystem, &root,
			map[string]any{"title": e.Title}); err != nil {
			log.Error().Err(err).Msg("failed to store progress")
		}
	}
	observability.AddProgressEvent(span, e.Title, e.Message)

	r.forward(stream, StreamEvent{Status: EventProgress, Title: e.Title, Content: e.Message})
}

func (r *Runner) onSuccess(ctx context.Context, rn *run, e job.Success, stream *Stream, log zerolog.Logger) {
	r.forward(stream, StreamEvent{Status: EventSuccess, JobID: rn.jobID, Content: e.Result})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupDeadline)
	defer cancel()

	result := JobResult{
		ConversationID: rn.conversationID,
		JobID:          rn.jobID,
		Status:         job.StatusSuccess,
		Content:        e.Result,
		RootMessageID:  rn.rootMessageID,
	}

	answer, err := r.store.Finalize(ctx, rn.conversationPK, rn.rootMessageID, e.Result, e.History)
	if err != nil {
		log.Error().Err(err).Str("job_id", rn.jobID).Msg("failed to store final answer")
	} else {
		result.MessageID = answer.ID
	}

	r.publish(ctx, result, log)

	if err == nil {
		if _, flushErr := r.mailbox.Flush(ctx, rn.conversationID, delivery.Content{Subject: rn.query, Body: answer.Content}); flushErr != nil {
			log.Error().Err(flushErr).Msg("failed to flush email queue")
		}
	}
	log.Info().Str("job_id", rn.jobID).Msg("job completed")
}

func (r *Runner) onFailure(ctx context.Context, rn *run, message string, stream *Stream, log zerolog.Logger) {
	r.forward(stream, StreamEvent{Status: EventError, JobID: rn.jobID, Content: message})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupDeadline)
	defer cancel()

	if rn.refund {
		if err := r.refunds.Decrement(ctx, rn.userID); err != nil {
			log.Error().Err(err).Str("user_id", rn.userID).Msg("failed to refund rate limit")
		}
	}

	r.publish(ctx, JobResult{
		ConversationID: rn.conversationID,
		JobID:          rn.jobID,
		Status:         job.StatusError,
		Content:        message,
		RootMessageID:  rn.rootMessageID,
	}, log)
	log.Warn().Str("job_id", rn.jobID).Str("reason", message).Msg("job failed")
}

func (r *Runner) publish(ctx context.Context, result JobResult, log zerolog.Logger) {
	if r.results == nil {
		return
	}
	if err := r.results.PublishResult(ctx, result.ConversationID, result); err != nil {
		log.Warn().Err(err).Msg("failed to publish job result")
	}
}

func (r *Runner) forward(stream *Stream, ev StreamEvent) {
	metrics.RecordStreamingEvent(ev.Status)
	stream.send(ev)
}
