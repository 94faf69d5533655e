package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/interfaces/httpserver/requests"
	"jan-server/services/research-api/internal/interfaces/httpserver/responses"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// MessageHandler serves per-message resources.
type MessageHandler struct {
	service ConversationService
	log     zerolog.Logger
}

// NewMessageHandler constructs the handler.
func NewMessageHandler(service ConversationService, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		service: service,
		log:     log.With().Str("handler", "message").Logger(),
	}
}

func (h *MessageHandler) messageID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "invalid message id", "")
		return 0, false
	}
	return uint(id), true
}

// Tasks handles GET /v1/chat/messages/:id/tasks
// @Summary Progress steps of a question
// @Tags Messages
// @Produce json
// @Param id path int true "User message ID"
// @Success 200 {object} responses.TasksResponse
// @Router /v1/chat/messages/{id}/tasks [get]
func (h *MessageHandler) Tasks(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := h.messageID(c)
	if !ok {
		return
	}

	if _, err := h.service.OwnedMessage(c.Request.Context(), id, p.UserID); err != nil {
		responses.HandleError(c, err, "failed to get message")
		return
	}

	tasks, err := h.service.GetTasks(c.Request.Context(), id)
	if err != nil {
		responses.HandleError(c, err, "failed to get tasks")
		return
	}

	c.JSON(http.StatusOK, responses.TasksResponse{MessageID: id, Tasks: tasks})
}

// Feedback handles POST /v1/chat/messages/:id/feedback
// @Summary Like or dislike an answer
// @Tags Messages
// @Accept json
// @Produce json
// @Param id path int true "Assistant message ID"
// @Param request body requests.FeedbackRequest true "Feedback"
// @Success 200 {object} responses.FeedbackResponse
// @Failure 400 {object} responses.ErrorResponse
// @Router /v1/chat/messages/{id}/feedback [post]
func (h *MessageHandler) Feedback(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := h.messageID(c)
	if !ok {
		return
	}

	var req requests.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "is_liked is required", "")
		return
	}

	if _, err := h.service.OwnedMessage(c.Request.Context(), id, p.UserID); err != nil {
		responses.HandleError(c, err, "failed to get message")
		return
	}

	feedback, err := h.service.SubmitFeedback(c.Request.Context(), id, p.UserID, *req.IsLiked, req.Feedback)
	if err != nil {
		responses.HandleError(c, err, "failed to save feedback")
		return
	}

	c.JSON(http.StatusOK, responses.MapFeedback(feedback))
}
