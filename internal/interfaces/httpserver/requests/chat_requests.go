package requests

// CreateConversationRequest opens a conversation with its first question.
type CreateConversationRequest struct {
	FirstMessage string `json:"first_message" binding:"required"`
}

// UpdateConversationRequest renames a conversation.
type UpdateConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

// EnqueueJobRequest queues a query for the worker pool.
type EnqueueJobRequest struct {
	Query string `json:"query" binding:"required"`
	Model string `json:"model,omitempty"`
}

// FeedbackRequest likes or dislikes an answer.
type FeedbackRequest struct {
	IsLiked  *bool   `json:"is_liked" binding:"required"`
	Feedback *string `json:"feedback,omitempty"`
}

// SendEmailRequest mails the answer of a conversation.
type SendEmailRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Email          string `json:"email" binding:"required"`
}
