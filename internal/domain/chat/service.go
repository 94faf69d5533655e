package chat

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/delivery"
	domainerrors "jan-server/services/research-api/internal/domain/errors"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/infrastructure/metrics"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// Conversations is the conversation state used by the chat service.
type Conversations interface {
	Store
	GetConversation(ctx context.Context, publicID string) (*conversation.Conversation, error)
	Status(ctx context.Context, publicID string) (job.Status, error)
}

// Quota gates submissions per user and day.
type Quota interface {
	Check(ctx context.Context, userID string, isStaff bool) (bool, error)
	Increment(ctx context.Context, userID string, isStaff bool) error
	Decrement(ctx context.Context, userID string) error
}

// Starter launches a tracked job.
type Starter interface {
	Start(ctx context.Context, req ChatJob) (*Stream, error)
}

// JobPublisher hands a job to the broker.
type JobPublisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Postman sends answers now or later.
type Postman interface {
	SendNow(ctx context.Context, to string, content delivery.Content) error
	Enqueue(ctx context.Context, conversationID, email, userID string) (string, error)
	Flush(ctx context.Context, conversationID string, content delivery.Content) ([]string, error)
}

// StreamRequest is a query from a user against one of their conversations.
type StreamRequest struct {
	ConversationID string
	Query          string
	Model          string
	UserID         string
	IsStaff        bool
}

// EnqueueResult identifies a job handed to the broker.
type EnqueueResult struct {
	MessageID     string `json:"message_id"`
	RootMessageID uint   `json:"root_message_id"`
}

// EmailStatus is the outcome of SendToEmail.
type EmailStatus string

const (
	EmailSent   EmailStatus = "sent"
	EmailQueued EmailStatus = "queued"
)

// EmailResult is returned by SendToEmail.
type EmailResult struct {
	Status  EmailStatus `json:"status"`
	QueueID string      `json:"queue_id,omitempty"`
}

// Service gates queries and dispatches them to the runner or the broker.
type Service struct {
	conversations Conversations
	quota         Quota
	runner        Starter
	publisher     JobPublisher
	postman       Postman
	defaultModel  string
	log           zerolog.Logger
}

// NewService wires dependencies. publisher may be nil when the broker is disabled.
func NewService(conversations Conversations, quota Quota, runner Starter, publisher JobPublisher, postman Postman, defaultModel string, log zerolog.Logger) *Service {
	return &Service{
		conversations: conversations,
		quota:         quota,
		runner:        runner,
		publisher:     publisher,
		postman:       postman,
		defaultModel:  defaultModel,
		log:           log.With().Str("component", "chat-service").Logger(),
	}
}

// Stream gates req, records the user message and starts tracking. The caller reads the
// stream and must Detach it when the client goes away.
func (s *Service) Stream(ctx context.Context, req StreamRequest) (*Stream, error) {
	chatJob, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	stream, err := s.runner.Start(ctx, chatJob)
	if err != nil {
		s.refund(ctx, chatJob)
		return nil, fmt.Errorf("start job: %w", err)
	}
	return stream, nil
}

// Enqueue gates req like Stream, then hands the job to the broker instead of tracking it here.
func (s *Service) Enqueue(ctx context.Context, req StreamRequest) (*EnqueueResult, error) {
	if s.publisher == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
			"job queue is not configured", nil, "")
	}

	chatJob, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	messageID, err := s.publisher.Publish(ctx, chatJob)
	if err != nil {
		s.refund(ctx, chatJob)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
			"failed to queue job", err, "")
	}

	s.log.Info().
		Str("conversation_id", chatJob.ConversationID).
		Str("message_id", messageID).
		Msg("job queued")
	return &EnqueueResult{MessageID: messageID, RootMessageID: chatJob.RootMessageID}, nil
}

func (s *Service) prepare(ctx context.Context, req StreamRequest) (ChatJob, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return ChatJob{}, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"query is required", nil, "")
	}

	allowed, err := s.quota.Check(ctx, req.UserID, req.IsStaff)
	if err != nil {
		return ChatJob{}, fmt.Errorf("check rate limit: %w", err)
	}
	if !allowed {
		metrics.RecordRateLimitRejection()
		return ChatJob{}, domainerrors.ErrQuotaExceeded
	}

	status, err := s.conversations.Status(ctx, req.ConversationID)
	if err != nil {
		return ChatJob{}, err
	}
	switch status {
	case job.StatusPending:
		return ChatJob{}, domainerrors.ErrJobPending
	case job.StatusProgress:
		return ChatJob{}, domainerrors.ErrJobInProgress
	}

	conv, err := s.conversations.LoadConversation(ctx, req.ConversationID)
	if err != nil {
		return ChatJob{}, err
	}
	if err := conversation.Authorize(ctx, conv, req.UserID); err != nil {
		return ChatJob{}, err
	}

	if err := s.quota.Increment(ctx, req.UserID, req.IsStaff); err != nil {
		return ChatJob{}, fmt.Errorf("increment rate limit: %w", err)
	}

	chatJob := ChatJob{
		ConversationID: conv.PublicID,
		Query:          query,
		Model:          req.Model,
		UserID:         req.UserID,
		IsStaff:        req.IsStaff,
	}
	if chatJob.Model == "" {
		chatJob.Model = s.defaultModel
	}

	if len(conv.Messages) == 0 {
		title := query
		if _, err := s.conversations.UpdateConversation(ctx, conv.PublicID, conversation.Patch{Title: &title}); err != nil {
			s.refund(ctx, chatJob)
			return ChatJob{}, err
		}
	}

	if last := conv.LastMessage(); last != nil && last.Role == conversation.RoleUser && last.Content == query {
		chatJob.RootMessageID = last.ID
		return chatJob, nil
	}

	msg, err := s.conversations.AddMessage(ctx, conv.ID, query, conversation.RoleUser, nil, nil)
	if err != nil {
		s.refund(ctx, chatJob)
		return ChatJob{}, err
	}
	chatJob.RootMessageID = msg.ID
	return chatJob, nil
}

func (s *Service) refund(ctx context.Context, chatJob ChatJob) {
	if chatJob.IsStaff {
		return
	}
	if err := s.quota.Decrement(context.WithoutCancel(ctx), chatJob.UserID); err != nil {
		s.log.Error().Err(err).Str("user_id", chatJob.UserID).Msg("failed to refund rate limit")
	}
}

// SendToEmail mails the answer now when the job is done, or queues the request while it runs.
func (s *Service) SendToEmail(ctx context.Context, conversationID, email, userID string) (*EmailResult, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"invalid email address", err, "")
	}

	conv, err := s.conversations.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := conversation.Authorize(ctx, conv, userID); err != nil {
		return nil, err
	}

	status, err := s.conversations.Status(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	switch status {
	case job.StatusSuccess:
		content, err := s.answer(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if err := s.postman.SendNow(ctx, addr.Address, content); err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeExternal,
				"failed to send email", err, "")
		}
		return &EmailResult{Status: EmailSent}, nil

	case job.StatusPending, job.StatusProgress:
		queueID, err := s.postman.Enqueue(ctx, conversationID, addr.Address, userID)
		if err != nil {
			return nil, fmt.Errorf("queue email: %w", err)
		}
		return s.flushIfFinished(ctx, conversationID, queueID), nil
	}

	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
		fmt.Sprintf("cannot email a conversation whose job is %s", status), nil, "")
}

// flushIfFinished covers a job that finished between the status check and the enqueue: its
// runner has already drained the queue, so nobody else would send this request. The queue
// record tells whether the send succeeded.
func (s *Service) flushIfFinished(ctx context.Context, conversationID, queueID string) *EmailResult {
	queued := &EmailResult{Status: EmailQueued, QueueID: queueID}
	log := s.log.With().Str("conversation_id", conversationID).Str("queue_id", queueID).Logger()

	status, err := s.conversations.Status(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to re-check job status after queueing email")
		return queued
	}
	if status != job.StatusSuccess {
		return queued
	}

	content, err := s.answer(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Msg("job finished but its answer is not stored yet")
		return queued
	}
	flushed, err := s.postman.Flush(ctx, conversationID, content)
	if err != nil {
		log.Error().Err(err).Msg("failed to flush email queue")
		return queued
	}
	log.Info().Int("count", len(flushed)).Msg("job finished while queueing email, queue flushed")
	return queued
}

func (s *Service) answer(ctx context.Context, conversationID string) (delivery.Content, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return delivery.Content{}, err
	}

	answer := conv.LastMessageWithRole(conversation.RoleAssistant)
	if answer == nil {
		return delivery.Content{}, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"conversation has no answer yet", nil, "")
	}

	subject := conv.Title
	if root := rootOf(conv, answer); root != nil {
		subject = root.Content
	}
	return delivery.Content{Subject: subject, Body: answer.Content}, nil
}

func rootOf(conv *conversation.Conversation, msg *conversation.Message) *conversation.Message {
	if msg.RootMessageID == nil {
		return nil
	}
	for _, m := range conv.Messages {
		if m.ID == *msg.RootMessageID {
			return m
		}
	}
	return nil
}
