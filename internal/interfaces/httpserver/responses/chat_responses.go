package responses

import (
	"time"

	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/delivery"
	"jan-server/services/research-api/internal/domain/job"
)

// ConversationResponse is a conversation as returned to clients.
type ConversationResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Preview     *string           `json:"preview,omitempty"`
	LatestJobID *string           `json:"latest_job_id,omitempty"`
	Messages    []MessageResponse `json:"messages,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ConversationListResponse wraps a list of conversations.
type ConversationListResponse struct {
	Data []ConversationResponse `json:"data"`
}

// MessageResponse is a single message.
type MessageResponse struct {
	ID            uint           `json:"id"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	RootMessageID *uint          `json:"root_message_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// MessageListResponse wraps a list of messages.
type MessageListResponse struct {
	Data []MessageResponse `json:"data"`
}

// FinalMessageResponse holds the newest answer, or null while there is none.
type FinalMessageResponse struct {
	Message *MessageResponse `json:"message"`
}

// StatusResponse is the status of a conversation's latest job.
type StatusResponse struct {
	ConversationID string     `json:"conversation_id"`
	Status         job.Status `json:"status"`
}

// TasksResponse lists the progress steps recorded for a message.
type TasksResponse struct {
	MessageID uint     `json:"message_id"`
	Tasks     []string `json:"tasks"`
}

// FeedbackResponse is the stored feedback on an answer.
type FeedbackResponse struct {
	MessageID uint      `json:"message_id"`
	IsLiked   bool      `json:"is_liked"`
	Feedback  *string   `json:"feedback,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailRequestResponse is the status of a queued email.
type EmailRequestResponse struct {
	QueueID        string    `json:"queue_id"`
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MapConversation maps a domain conversation.
func MapConversation(c *conversation.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:          c.PublicID,
		Title:       c.Title,
		Preview:     c.Preview,
		LatestJobID: c.LatestJobID,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if len(c.Messages) > 0 {
		resp.Messages = MapMessages(c.Messages)
	}
	return resp
}

// MapConversations maps a list of conversations without their messages.
func MapConversations(list []*conversation.Conversation) ConversationListResponse {
	data := make([]ConversationResponse, 0, len(list))
	for _, c := range list {
		data = append(data, MapConversation(c))
	}
	return ConversationListResponse{Data: data}
}

// MapMessage maps a domain message.
func MapMessage(m *conversation.Message) MessageResponse {
	return MessageResponse{
		ID:            m.ID,
		Role:          string(m.Role),
		Content:       m.Content,
		RootMessageID: m.RootMessageID,
		Metadata:      m.Metadata,
		CreatedAt:     m.CreatedAt,
	}
}

// MapMessages maps a list of domain messages.
func MapMessages(list []*conversation.Message) []MessageResponse {
	data := make([]MessageResponse, 0, len(list))
	for _, m := range list {
		data = append(data, MapMessage(m))
	}
	return data
}

// MapFeedback maps stored feedback.
func MapFeedback(f *conversation.Feedback) FeedbackResponse {
	return FeedbackResponse{
		MessageID: f.MessageID,
		IsLiked:   f.IsLiked,
		Feedback:  f.Feedback,
		UpdatedAt: f.UpdatedAt,
	}
}

// MapEmailRequest maps a deferred email record. The address is not echoed back.
func MapEmailRequest(r delivery.Request) EmailRequestResponse {
	return EmailRequestResponse{
		QueueID:        r.QueueID,
		ConversationID: r.ConversationID,
		Status:         string(r.Status),
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
