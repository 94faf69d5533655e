package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/chat"
	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/delivery"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/domain/liveness"
	"jan-server/services/research-api/internal/infrastructure/auth"
	"jan-server/services/research-api/internal/interfaces/httpserver/handlers"
	"jan-server/services/research-api/internal/interfaces/httpserver/routes"
)

const owner = "user-1"

// MockConversationService is a mock implementation of handlers.ConversationService.
type MockConversationService struct {
	CreateConversationFunc      func(ctx context.Context, firstMessage, userID string) (*conversation.Conversation, error)
	ListConversationsFunc       func(ctx context.Context, userID string) ([]*conversation.Conversation, error)
	GetOwnedConversationFunc    func(ctx context.Context, publicID, userID string) (*conversation.Conversation, error)
	FindConversationFunc        func(ctx context.Context, publicID string) (*conversation.Conversation, error)
	UpdateConversationFunc      func(ctx context.Context, publicID string, patch conversation.Patch) (*conversation.Conversation, error)
	DeleteConversationFunc      func(ctx context.Context, publicID string) error
	StatusFunc                  func(ctx context.Context, publicID string) (job.Status, error)
	GetProgressMessagesFunc     func(ctx context.Context, publicID string, offset int) ([]*conversation.Message, error)
	GetFinalResponseMessageFunc func(ctx context.Context, publicID string) (*conversation.Message, error)
	OwnedMessageFunc            func(ctx context.Context, messageID uint, userID string) (*conversation.Message, error)
	GetTasksFunc                func(ctx context.Context, messageID uint) ([]string, error)
	SubmitFeedbackFunc          func(ctx context.Context, messageID uint, userID string, isLiked bool, text *string) (*conversation.Feedback, error)
}

func (m *MockConversationService) CreateConversation(ctx context.Context, firstMessage, userID string) (*conversation.Conversation, error) {
	if m.CreateConversationFunc != nil {
		return m.CreateConversationFunc(ctx, firstMessage, userID)
	}
	return nil, nil
}

func (m *MockConversationService) ListConversations(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	if m.ListConversationsFunc != nil {
		return m.ListConversationsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConversationService) GetOwnedConversation(ctx context.Context, publicID, userID string) (*conversation.Conversation, error) {
	if m.GetOwnedConversationFunc != nil {
		return m.GetOwnedConversationFunc(ctx, publicID, userID)
	}
	return nil, nil
}

// FindConversation defaults to a conversation owned by owner.
func (m *MockConversationService) FindConversation(ctx context.Context, publicID string) (*conversation.Conversation, error) {
	if m.FindConversationFunc != nil {
		return m.FindConversationFunc(ctx, publicID)
	}
	return &conversation.Conversation{ID: 1, PublicID: publicID, UserID: owner, Title: "title"}, nil
}

func (m *MockConversationService) UpdateConversation(ctx context.Context, publicID string, patch conversation.Patch) (*conversation.Conversation, error) {
	if m.UpdateConversationFunc != nil {
		return m.UpdateConversationFunc(ctx, publicID, patch)
	}
	return nil, nil
}

func (m *MockConversationService) DeleteConversation(ctx context.Context, publicID string) error {
	if m.DeleteConversationFunc != nil {
		return m.DeleteConversationFunc(ctx, publicID)
	}
	return nil
}

func (m *MockConversationService) Status(ctx context.Context, publicID string) (job.Status, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, publicID)
	}
	return job.StatusSuccess, nil
}

func (m *MockConversationService) GetProgressMessages(ctx context.Context, publicID string, offset int) ([]*conversation.Message, error) {
	if m.GetProgressMessagesFunc != nil {
		return m.GetProgressMessagesFunc(ctx, publicID, offset)
	}
	return nil, nil
}

func (m *MockConversationService) GetFinalResponseMessage(ctx context.Context, publicID string) (*conversation.Message, error) {
	if m.GetFinalResponseMessageFunc != nil {
		return m.GetFinalResponseMessageFunc(ctx, publicID)
	}
	return nil, nil
}

func (m *MockConversationService) OwnedMessage(ctx context.Context, messageID uint, userID string) (*conversation.Message, error) {
	if m.OwnedMessageFunc != nil {
		return m.OwnedMessageFunc(ctx, messageID, userID)
	}
	return &conversation.Message{ID: messageID, Role: conversation.RoleAssistant}, nil
}

func (m *MockConversationService) GetTasks(ctx context.Context, messageID uint) ([]string, error) {
	if m.GetTasksFunc != nil {
		return m.GetTasksFunc(ctx, messageID)
	}
	return []string{}, nil
}

func (m *MockConversationService) SubmitFeedback(ctx context.Context, messageID uint, userID string, isLiked bool, text *string) (*conversation.Feedback, error) {
	if m.SubmitFeedbackFunc != nil {
		return m.SubmitFeedbackFunc(ctx, messageID, userID, isLiked, text)
	}
	return nil, nil
}

// MockChatService is a mock implementation of handlers.ChatService.
type MockChatService struct {
	StreamFunc      func(ctx context.Context, req chat.StreamRequest) (*chat.Stream, error)
	EnqueueFunc     func(ctx context.Context, req chat.StreamRequest) (*chat.EnqueueResult, error)
	SendToEmailFunc func(ctx context.Context, conversationID, email, userID string) (*chat.EmailResult, error)
}

func (m *MockChatService) Stream(ctx context.Context, req chat.StreamRequest) (*chat.Stream, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return chat.Replay(), nil
}

func (m *MockChatService) Enqueue(ctx context.Context, req chat.StreamRequest) (*chat.EnqueueResult, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockChatService) SendToEmail(ctx context.Context, conversationID, email, userID string) (*chat.EmailResult, error) {
	if m.SendToEmailFunc != nil {
		return m.SendToEmailFunc(ctx, conversationID, email, userID)
	}
	return nil, nil
}

// MockRecoveryService is a mock implementation of handlers.RecoveryService.
type MockRecoveryService struct {
	CheckHealthFunc func(ctx context.Context, conversationID string) (liveness.Health, error)
	RecoverFunc     func(ctx context.Context, conversationID string) (liveness.RecoveryResult, error)
}

func (m *MockRecoveryService) CheckHealth(ctx context.Context, conversationID string) (liveness.Health, error) {
	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx, conversationID)
	}
	return liveness.Health{}, nil
}

func (m *MockRecoveryService) Recover(ctx context.Context, conversationID string) (liveness.RecoveryResult, error) {
	if m.RecoverFunc != nil {
		return m.RecoverFunc(ctx, conversationID)
	}
	return liveness.RecoveryResult{}, nil
}

// MockEmailQueue is a mock implementation of handlers.EmailQueue.
type MockEmailQueue struct {
	GetFunc func(ctx context.Context, queueID string) (delivery.Request, error)
}

func (m *MockEmailQueue) Get(ctx context.Context, queueID string) (delivery.Request, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, queueID)
	}
	return delivery.Request{}, nil
}

type testDeps struct {
	conversations *MockConversationService
	chat          *MockChatService
	recovery      *MockRecoveryService
	emails        *MockEmailQueue
}

func newDeps() *testDeps {
	return &testDeps{
		conversations: &MockConversationService{},
		chat:          &MockChatService{},
		recovery:      &MockRecoveryService{},
		emails:        &MockEmailQueue{},
	}
}

// router registers the real routes behind a middleware that authenticates as userID.
func (d *testDeps) router(userID string, staff bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		if userID != "" {
			auth.SetPrincipal(c, auth.Principal{UserID: userID, IsStaff: staff})
		}
		c.Next()
	})

	provider := handlers.NewProvider(d.conversations, d.chat, d.recovery, d.emails, handlers.DefaultKeepalive, zerolog.Nop())
	routes.NewProvider(provider).Register(engine)
	return engine
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}
