package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/infrastructure/kvstore"
	"jan-server/services/research-api/internal/interfaces/httpserver/requests"
	"jan-server/services/research-api/internal/interfaces/httpserver/responses"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// EmailHandler sends answers by email.
type EmailHandler struct {
	service ChatService
	queue   EmailQueue
	log     zerolog.Logger
}

// NewEmailHandler constructs the handler.
func NewEmailHandler(service ChatService, queue EmailQueue, log zerolog.Logger) *EmailHandler {
	return &EmailHandler{
		service: service,
		queue:   queue,
		log:     log.With().Str("handler", "email").Logger(),
	}
}

// Send handles POST /v1/chat/email
// @Summary Email an answer
// @Description Sends the answer now when the job has finished, otherwise queues the request until it does
// @Tags Email
// @Accept json
// @Produce json
// @Param request body requests.SendEmailRequest true "Recipient"
// @Success 200 {object} chat.EmailResult
// @Failure 400 {object} responses.ErrorResponse
// @Failure 502 {object} responses.ErrorResponse
// @Router /v1/chat/email [post]
func (h *EmailHandler) Send(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req requests.SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "conversation_id and email are required", "")
		return
	}

	result, err := h.service.SendToEmail(c.Request.Context(), req.ConversationID, req.Email, p.UserID)
	if err != nil {
		responses.HandleError(c, err, "failed to send email")
		return
	}

	c.JSON(http.StatusOK, result)
}

// Status handles GET /v1/chat/email/:queueId
// @Summary Queued email status
// @Tags Email
// @Produce json
// @Param queueId path string true "Queue ID"
// @Success 200 {object} responses.EmailRequestResponse
// @Failure 404 {object} responses.ErrorResponse
// @Router /v1/chat/email/{queueId} [get]
func (h *EmailHandler) Status(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	request, err := h.queue.Get(c.Request.Context(), c.Param("queueId"))
	if errors.Is(err, kvstore.ErrNotFound) {
		responses.HandleNewError(c, platformerrors.ErrorTypeNotFound, "email request not found", "")
		return
	}
	if err != nil {
		responses.HandleError(c, err, "failed to get email request")
		return
	}
	if request.UserID != p.UserID {
		// Other users' requests are reported as missing.
		responses.HandleNewError(c, platformerrors.ErrorTypeNotFound, "email request not found", "")
		return
	}

	c.JSON(http.StatusOK, responses.MapEmailRequest(request))
}
