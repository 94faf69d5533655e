// Package conversation stores conversations, their messages and the state of their latest job.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// StatusSource reads job status from the inference service.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (job.Report, error)
	JobStatus(ctx context.Context, jobID string) job.Status
}

// Service implements conversation state operations.
type Service struct {
	conversations Repository
	messages      MessageRepository
	statuses      StatusSource
	log           zerolog.Logger
}

// NewService wires dependencies.
func NewService(conversations Repository, messages MessageRepository, statuses StatusSource, log zerolog.Logger) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		statuses:      statuses,
		log:           log.With().Str("component", "conversation-service").Logger(),
	}
}

func newPublicID() string {
	return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateConversation opens a conversation titled after its first message and stores that message.
func (s *Service) CreateConversation(ctx context.Context, firstMessage, userID string) (*Conversation, error) {
	if strings.TrimSpace(firstMessage) == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"first message is required", nil, "")
	}

	conv := &Conversation{
		PublicID: newPublicID(),
		UserID:   userID,
		Title:    TruncateTitle(firstMessage),
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	msg, err := s.AddMessage(ctx, conv.ID, firstMessage, RoleUser, nil, nil)
	if err != nil {
		return nil, err
	}
	conv.Messages = []*Message{msg}
	return conv, nil
}

// GetConversation loads a conversation with its messages. When the newest message is the
// unanswered user message of a finished job, the final answer is stored first.
func (s *Service) GetConversation(ctx context.Context, publicID string) (*Conversation, error) {
	conv, err := s.load(ctx, publicID)
	if err != nil {
		return nil, err
	}

	finalized, err := s.finalizeIfDone(ctx, conv)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", publicID).Msg("lazy finalize failed")
	}
	if finalized {
		return s.load(WithFreshReads(ctx), publicID)
	}
	return conv, nil
}

// GetOwnedConversation is GetConversation restricted to the owner.
func (s *Service) GetOwnedConversation(ctx context.Context, publicID, userID string) (*Conversation, error) {
	conv, err := s.GetConversation(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ctx, conv, userID); err != nil {
		return nil, err
	}
	return conv, nil
}

// FindConversation loads conversation metadata without messages.
func (s *Service) FindConversation(ctx context.Context, publicID string) (*Conversation, error) {
	conv, err := s.conversations.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// LoadConversation loads a conversation with its messages, without contacting the inference service.
func (s *Service) LoadConversation(ctx context.Context, publicID string) (*Conversation, error) {
	return s.load(ctx, publicID)
}

// Authorize returns a forbidden error unless userID owns conv.
func Authorize(ctx context.Context, conv *Conversation, userID string) error {
	if conv.OwnedBy(userID) {
		return nil
	}
	return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeForbidden,
		"conversation belongs to another user", nil, "")
}

// UpdateConversation applies patch. LatestJobID and LatestJobRootID should only be set by the
// job runner, together.
func (s *Service) UpdateConversation(ctx context.Context, publicID string, patch Patch) (*Conversation, error) {
	conv, err := s.conversations.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		title := TruncateTitle(*patch.Title)
		patch.Title = &title
	}
	if err := s.conversations.Update(ctx, conv.ID, patch); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return s.conversations.FindByPublicID(WithFreshReads(ctx), publicID)
}

// AddMessage appends a message to a conversation.
func (s *Service) AddMessage(ctx context.Context, conversationID uint, content string, role Role, rootMessageID *uint, metadata map[string]any) (*Message, error) {
	if !role.Valid() {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("invalid role %q", role), nil, "")
	}

	msg := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		RootMessageID:  rootMessageID,
		Metadata:       metadata,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("add %s message: %w", role, err)
	}
	return msg, nil
}

// Finalize stores the final answer of root and its analysis trail, then sets the preview
// if the conversation has none. It is idempotent: an existing answer is returned unchanged.
func (s *Service) Finalize(ctx context.Context, conversationID uint, rootMessageID uint, result string, history []string) (*Message, error) {
	root := rootMessageID
	answer, created, err := s.messages.CreateFinal(ctx, &Message{
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        result,
		RootMessageID:  &root,
	})
	if err != nil {
		return nil, fmt.Errorf("store final answer: %w", err)
	}
	if !created {
		s.log.Debug().Uint("root_message_id", rootMessageID).Msg("final answer already stored")
	}

	if len(history) > 0 {
		if _, _, err := s.messages.CreateFinal(ctx, &Message{
			ConversationID: conversationID,
			Role:           RoleHistory,
			Content:        strings.Join(history, "\n"),
			RootMessageID:  &root,
		}); err != nil {
			return nil, fmt.Errorf("store analysis history: %w", err)
		}
	}

	preview := PreviewOf(answer.Content)
	if err := s.conversations.Update(ctx, conversationID, Patch{Preview: &preview}); err != nil {
		return nil, fmt.Errorf("set preview: %w", err)
	}
	return answer, nil
}

// FinalizeFromStatus runs the lazy finalize for a conversation.
func (s *Service) FinalizeFromStatus(ctx context.Context, publicID string) error {
	conv, err := s.load(ctx, publicID)
	if err != nil {
		return err
	}
	_, err = s.finalizeIfDone(ctx, conv)
	return err
}

// finalizeIfDone answers the newest message with the latest job's result. A user message
// appended after that job was submitted belongs to a job that has not been recorded yet.
func (s *Service) finalizeIfDone(ctx context.Context, conv *Conversation) (bool, error) {
	root := conv.AwaitingJobAnswer()
	jobID := conv.JobID()
	if root == nil || jobID == "" {
		return false, nil
	}

	report, err := s.statuses.Status(ctx, jobID)
	if err != nil {
		return false, err
	}
	if report.Status != job.StatusSuccess {
		return false, nil
	}

	result := report.Result
	if strings.TrimSpace(result) == "" {
		return false, nil
	}
	if _, err := s.Finalize(ctx, conv.ID, root.ID, result, report.History); err != nil {
		return false, err
	}
	s.log.Info().Str("conversation_id", conv.PublicID).Str("job_id", jobID).Msg("conversation finalized on read")
	return true, nil
}

// GetProgressMessages returns the stored progress steps of a conversation starting at offset.
func (s *Service) GetProgressMessages(ctx context.Context, publicID string, offset int) ([]*Message, error) {
	conv, err := s.load(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	var progress []*Message
	for _, msg := range conv.Messages {
		if msg.Role == RoleSystem {
			progress = append(progress, msg)
		}
	}
	if offset >= len(progress) {
		return []*Message{}, nil
	}
	return progress[offset:], nil
}

// GetFinalResponseMessage returns the newest assistant message, or nil when there is none.
func (s *Service) GetFinalResponseMessage(ctx context.Context, publicID string) (*Message, error) {
	conv, err := s.load(ctx, publicID)
	if err != nil {
		return nil, err
	}
	return conv.LastMessageWithRole(RoleAssistant), nil
}

// ListConversations returns the conversations of a user, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.conversations.ListByUser(ctx, userID)
}

// ListAwaitingAnswer returns conversations active since the given time whose newest message is still unanswered.
func (s *Service) ListAwaitingAnswer(ctx context.Context, since time.Time) ([]*Conversation, error) {
	return s.conversations.ListAwaitingAnswer(ctx, since)
}

// DeleteConversation removes a conversation.
func (s *Service) DeleteConversation(ctx context.Context, publicID string) error {
	conv, err := s.conversations.FindByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	return s.conversations.Delete(ctx, conv.ID)
}

// GetTasks returns the progress steps recorded for a user message, one entry per line.
func (s *Service) GetTasks(ctx context.Context, messageID uint) ([]string, error) {
	steps, err := s.messages.ListByRoot(ctx, messageID, RoleSystem)
	if err != nil {
		return nil, err
	}

	tasks := []string{}
	for _, step := range steps {
		for _, line := range strings.Split(step.Content, "\n") {
			if strings.TrimSpace(line) != "" {
				tasks = append(tasks, line)
			}
		}
	}
	return tasks, nil
}

// SubmitFeedback records or replaces feedback on an assistant message.
func (s *Service) SubmitFeedback(ctx context.Context, messageID uint, userID string, isLiked bool, text *string) (*Feedback, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != RoleAssistant {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"feedback is only accepted on answers", nil, "")
	}

	feedback := &Feedback{
		MessageID: messageID,
		UserID:    userID,
		IsLiked:   isLiked,
		Feedback:  text,
	}
	if err := s.messages.UpsertFeedback(ctx, feedback); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}
	return feedback, nil
}

// GetFeedback returns the feedback on a message.
func (s *Service) GetFeedback(ctx context.Context, messageID uint) (*Feedback, error) {
	return s.messages.FindFeedback(ctx, messageID)
}

// FindMessage returns a single message.
func (s *Service) FindMessage(ctx context.Context, messageID uint) (*Message, error) {
	return s.messages.FindByID(ctx, messageID)
}

// OwnedMessage returns a message after checking that userID owns its conversation.
func (s *Service) OwnedMessage(ctx context.Context, messageID uint, userID string) (*Message, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.FindByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ctx, conv, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

// Status returns the status of the latest job; a conversation without a job reports success.
func (s *Service) Status(ctx context.Context, publicID string) (job.Status, error) {
	jobID, err := s.LatestJobID(ctx, publicID)
	if err != nil {
		return job.StatusUnknown, err
	}
	if jobID == "" {
		return job.StatusSuccess, nil
	}
	return s.statuses.JobStatus(ctx, jobID), nil
}

// LatestJobID returns the job id recorded for a conversation, or "".
func (s *Service) LatestJobID(ctx context.Context, publicID string) (string, error) {
	conv, err := s.conversations.FindByPublicID(ctx, publicID)
	if err != nil {
		return "", err
	}
	return conv.JobID(), nil
}

func (s *Service) load(ctx context.Context, publicID string) (*Conversation, error) {
	conv, err := s.conversations.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	messages, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	conv.Messages = messages
	return conv, nil
}
