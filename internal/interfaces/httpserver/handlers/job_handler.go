package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/interfaces/httpserver/responses"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// JobHandler reports on and recovers the latest job of a conversation.
type JobHandler struct {
	conversations ConversationService
	recovery      RecoveryService
	log           zerolog.Logger
}

// NewJobHandler constructs the handler.
func NewJobHandler(conversations ConversationService, recovery RecoveryService, log zerolog.Logger) *JobHandler {
	return &JobHandler{
		conversations: conversations,
		recovery:      recovery,
		log:           log.With().Str("handler", "job").Logger(),
	}
}

// Status handles GET /v1/chat/conversations/:id/status
// @Summary Latest job status
// @Tags Jobs
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} responses.StatusResponse
// @Router /v1/chat/conversations/{id}/status [get]
func (h *JobHandler) Status(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	conv, ok := ownedConversation(c, h.conversations, p.UserID)
	if !ok {
		return
	}

	status, err := h.conversations.Status(c.Request.Context(), conv.PublicID)
	if err != nil {
		responses.HandleError(c, err, "failed to get job status")
		return
	}

	c.JSON(http.StatusOK, responses.StatusResponse{ConversationID: conv.PublicID, Status: status})
}

// Health handles GET /v1/chat/conversations/:id/health
// @Summary Job liveness
// @Description Compares the job status with the tracker heartbeat
// @Tags Jobs
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} liveness.Health
// @Router /v1/chat/conversations/{id}/health [get]
func (h *JobHandler) Health(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	conv, ok := ownedConversation(c, h.conversations, p.UserID)
	if !ok {
		return
	}

	health, err := h.recovery.CheckHealth(c.Request.Context(), conv.PublicID)
	if err != nil {
		responses.HandleError(c, err, "failed to check job health")
		return
	}

	c.JSON(http.StatusOK, health)
}

// Recover handles POST /v1/chat/conversations/:id/recover
// @Summary Recover an orphaned job
// @Description Restarts tracking of a running job that lost its tracker, or stores the answer of a finished one
// @Tags Jobs
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} liveness.RecoveryResult
// @Failure 503 {object} responses.ErrorResponse
// @Router /v1/chat/conversations/{id}/recover [post]
func (h *JobHandler) Recover(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	conv, ok := ownedConversation(c, h.conversations, p.UserID)
	if !ok {
		return
	}

	result, err := h.recovery.Recover(c.Request.Context(), conv.PublicID)
	if err != nil {
		responses.HandleError(c, err, "failed to recover job")
		return
	}

	c.JSON(http.StatusOK, result)
}

// Progress handles GET /v1/chat/conversations/:id/progress
// @Summary Stored progress steps
// @Description Returns persisted progress messages from offset, for clients catching up after a reconnect
// @Tags Jobs
// @Produce json
// @Param id path string true "Conversation ID"
// @Param offset query int false "Number of steps already seen"
// @Success 200 {object} responses.MessageListResponse
// @Router /v1/chat/conversations/{id}/progress [get]
func (h *JobHandler) Progress(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "offset must be a non-negative integer", "")
			return
		}
		offset = parsed
	}

	conv, ok := ownedConversation(c, h.conversations, p.UserID)
	if !ok {
		return
	}

	messages, err := h.conversations.GetProgressMessages(c.Request.Context(), conv.PublicID, offset)
	if err != nil {
		responses.HandleError(c, err, "failed to get progress")
		return
	}

	c.JSON(http.StatusOK, responses.MessageListResponse{Data: responses.MapMessages(messages)})
}

// Final handles GET /v1/chat/conversations/:id/final
// @Summary Final answer
// @Tags Jobs
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} responses.FinalMessageResponse
// @Router /v1/chat/conversations/{id}/final [get]
func (h *JobHandler) Final(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	conv, ok := ownedConversation(c, h.conversations, p.UserID)
	if !ok {
		return
	}

	msg, err := h.conversations.GetFinalResponseMessage(c.Request.Context(), conv.PublicID)
	if err != nil {
		responses.HandleError(c, err, "failed to get final answer")
		return
	}

	resp := responses.FinalMessageResponse{}
	if msg != nil {
		mapped := responses.MapMessage(msg)
		resp.Message = &mapped
	}
	c.JSON(http.StatusOK, resp)
}
