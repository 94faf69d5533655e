package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/chat"
	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/delivery"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/domain/liveness"
	"jan-server/services/research-api/internal/infrastructure/auth"
	"jan-server/services/research-api/internal/interfaces/httpserver/responses"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// ConversationService is the conversation state used by the handlers.
type ConversationService interface {
	CreateConversation(ctx context.Context, firstMessage, userID string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*conversation.Conversation, error)
	GetOwnedConversation(ctx context.Context, publicID, userID string) (*conversation.Conversation, error)
	FindConversation(ctx context.Context, publicID string) (*conversation.Conversation, error)
	UpdateConversation(ctx context.Context, publicID string, patch conversation.Patch) (*conversation.Conversation, error)
	DeleteConversation(ctx context.Context, publicID string) error
	Status(ctx context.Context, publicID string) (job.Status, error)
	GetProgressMessages(ctx context.Context, publicID string, offset int) ([]*conversation.Message, error)
	GetFinalResponseMessage(ctx context.Context, publicID string) (*conversation.Message, error)
	OwnedMessage(ctx context.Context, messageID uint, userID string) (*conversation.Message, error)
	GetTasks(ctx context.Context, messageID uint) ([]string, error)
	SubmitFeedback(ctx context.Context, messageID uint, userID string, isLiked bool, text *string) (*conversation.Feedback, error)
}

// ChatService submits queries.
type ChatService interface {
	Stream(ctx context.Context, req chat.StreamRequest) (*chat.Stream, error)
	Enqueue(ctx context.Context, req chat.StreamRequest) (*chat.EnqueueResult, error)
	SendToEmail(ctx context.Context, conversationID, email, userID string) (*chat.EmailResult, error)
}

// RecoveryService checks and restarts job tracking.
type RecoveryService interface {
	CheckHealth(ctx context.Context, conversationID string) (liveness.Health, error)
	Recover(ctx context.Context, conversationID string) (liveness.RecoveryResult, error)
}

// EmailQueue looks up deferred email requests.
type EmailQueue interface {
	Get(ctx context.Context, queueID string) (delivery.Request, error)
}

// Provider wires all HTTP handlers for dependency injection.
type Provider struct {
	Conversation *ConversationHandler
	Chat         *ChatHandler
	Job          *JobHandler
	Message      *MessageHandler
	Email        *EmailHandler
}

// NewProvider constructs the handler provider with domain services.
func NewProvider(
	conversations ConversationService,
	chatService ChatService,
	recovery RecoveryService,
	emails EmailQueue,
	keepalive time.Duration,
	log zerolog.Logger,
) *Provider {
	return &Provider{
		Conversation: NewConversationHandler(conversations, log),
		Chat:         NewChatHandler(chatService, keepalive, log),
		Job:          NewJobHandler(conversations, recovery, log),
		Message:      NewMessageHandler(conversations, log),
		Email:        NewEmailHandler(chatService, emails, log),
	}
}

// principal returns the authenticated caller or writes a 401.
func principal(c *gin.Context) (auth.Principal, bool) {
	p, ok := auth.FromContext(c)
	if !ok || p.UserID == "" {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "authentication required", "")
		return auth.Principal{}, false
	}
	return p, true
}

// ownedConversation loads conversation metadata and checks that the caller owns it.
func ownedConversation(c *gin.Context, conversations ConversationService, userID string) (*conversation.Conversation, bool) {
	ctx := c.Request.Context()
	conv, err := conversations.FindConversation(ctx, c.Param("id"))
	if err != nil {
		responses.HandleError(c, err, "failed to get conversation")
		return nil, false
	}
	if err := conversation.Authorize(ctx, conv, userID); err != nil {
		responses.HandleError(c, err, "access denied")
		return nil, false
	}
	return conv, true
}
