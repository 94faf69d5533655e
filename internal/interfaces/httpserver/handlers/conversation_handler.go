package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/interfaces/httpserver/requests"
	"jan-server/services/research-api/internal/interfaces/httpserver/responses"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// ConversationHandler exposes conversation CRUD.
type ConversationHandler struct {
	service ConversationService
	log     zerolog.Logger
}

// NewConversationHandler constructs the handler.
func NewConversationHandler(service ConversationService, log zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: service,
		log:     log.With().Str("handler", "conversation").Logger(),
	}
}

// Create handles POST /v1/chat/conversations
// @Summary Create a conversation
// @Description Opens a conversation titled after its first message
// @Tags Conversations
// @Accept json
// @Produce json
// @Param request body requests.CreateConversationRequest true "First message"
// @Success 201 {object} responses.ConversationResponse
// @Failure 400 {object} responses.ErrorResponse
// @Router /v1/chat/conversations [post]
func (h *ConversationHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req requests.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "first_message is required", "")
		return
	}

	conv, err := h.service.CreateConversation(c.Request.Context(), req.FirstMessage, p.UserID)
	if err != nil {
		responses.HandleError(c, err, "failed to create conversation")
		return
	}

	c.JSON(http.StatusCreated, responses.MapConversation(conv))
}

// List handles GET /v1/chat/conversations
// @Summary List conversations
// @Tags Conversations
// @Produce json
// @Success 200 {object} responses.ConversationListResponse
// @Router /v1/chat/conversations [get]
func (h *ConversationHandler) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	list, err := h.service.ListConversations(c.Request.Context(), p.UserID)
	if err != nil {
		responses.HandleError(c, err, "failed to list conversations")
		return
	}

	c.JSON(http.StatusOK, responses.MapConversations(list))
}

// Get handles GET /v1/chat/conversations/:id
// @Summary Get a conversation
// @Description Returns the conversation with its messages, storing the final answer first when the job has finished
// @Tags Conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} responses.ConversationResponse
// @Failure 403 {object} responses.ErrorResponse
// @Failure 404 {object} responses.ErrorResponse
// @Router /v1/chat/conversations/{id} [get]
func (h *ConversationHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	conv, err := h.service.GetOwnedConversation(c.Request.Context(), c.Param("id"), p.UserID)
	if err != nil {
		responses.HandleError(c, err, "failed to get conversation")
		return
	}

	c.JSON(http.StatusOK, responses.MapConversation(conv))
}

// Update handles PATCH /v1/chat/conversations/:id
// @Summary Rename a conversation
// @Tags Conversations
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param request body requests.UpdateConversationRequest true "New title"
// @Success 200 {object} responses.ConversationResponse
// @Failure 400 {object} responses.ErrorResponse
// @Failure 403 {object} responses.ErrorResponse
// @Router /v1/chat/conversations/{id} [patch]
func (h *ConversationHandler) Update(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req requests.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "title is required", "")
		return
	}

	conv, ok := ownedConversation(c, h.service, p.UserID)
	if !ok {
		return
	}

	updated, err := h.service.UpdateConversation(c.Request.Context(), conv.PublicID, conversation.Patch{Title: &req.Title})
	if err != nil {
		responses.HandleError(c, err, "failed to update conversation")
		return
	}

	c.JSON(http.StatusOK, responses.MapConversation(updated))
}

// Delete handles DELETE /v1/chat/conversations/:id
// @Summary Delete a conversation
// @Tags Conversations
// @Param id path string true "Conversation ID"
// @Success 204
// @Failure 403 {object} responses.ErrorResponse
// @Failure 404 {object} responses.ErrorResponse
// @Router /v1/chat/conversations/{id} [delete]
func (h *ConversationHandler) Delete(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	conv, ok := ownedConversation(c, h.service, p.UserID)
	if !ok {
		return
	}

	if err := h.service.DeleteConversation(c.Request.Context(), conv.PublicID); err != nil {
		responses.HandleError(c, err, "failed to delete conversation")
		return
	}

	h.log.Info().Str("conversation_id", conv.PublicID).Msg("conversation deleted")
	c.Status(http.StatusNoContent)
}
