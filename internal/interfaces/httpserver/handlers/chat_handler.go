package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/chat"
	"jan-server/services/research-api/internal/infrastructure/metrics"
	"jan-server/services/research-api/internal/interfaces/httpserver/requests"
	"jan-server/services/research-api/internal/interfaces/httpserver/responses"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// DefaultKeepalive is the idle interval between SSE ping comments.
const DefaultKeepalive = 15 * time.Second

// ChatHandler submits queries, either streamed over SSE or through the broker.
type ChatHandler struct {
	service   ChatService
	keepalive time.Duration
	log       zerolog.Logger
}

// NewChatHandler constructs the handler.
func NewChatHandler(service ChatService, keepalive time.Duration, log zerolog.Logger) *ChatHandler {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &ChatHandler{
		service:   service,
		keepalive: keepalive,
		log:       log.With().Str("handler", "chat").Logger(),
	}
}

// Stream handles GET /v1/chat/conversations/:id/stream
// @Summary Stream a research query
// @Description Submits the query and relays job events as server-sent events. Each frame is `data: {json}`.
// @Description Closing the connection does not stop the job.
// @Tags Chat
// @Produce text/event-stream
// @Param id path string true "Conversation ID"
// @Param query query string true "Question"
// @Param model query string false "Model override"
// @Success 200 {object} chat.StreamEvent
// @Failure 400 {object} responses.ErrorResponse
// @Failure 403 {object} responses.ErrorResponse
// @Failure 429 {object} responses.ErrorResponse
// @Router /v1/chat/conversations/{id}/stream [get]
func (h *ChatHandler) Stream(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	stream, err := h.service.Stream(c.Request.Context(), chat.StreamRequest{
		ConversationID: c.Param("id"),
		Query:          c.Query("query"),
		Model:          c.Query("model"),
		UserID:         p.UserID,
		IsStaff:        p.IsStaff,
	})
	if err != nil {
		responses.HandleError(c, err, "failed to start query")
		return
	}
	defer stream.Detach()

	metrics.StreamingConnections.Inc()
	defer metrics.StreamingConnections.Dec()

	out := startSSE(c)
	log := h.log.With().Str("conversation_id", c.Param("id")).Logger()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			log.Debug().Msg("client went away, job continues")
			return

		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}

		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			if err := out.data(ev); err != nil {
				log.Debug().Err(err).Msg("stream write failed, job continues")
				return
			}
			if ev.Terminal() {
				return
			}
			ticker.Reset(h.keepalive)
		}
	}
}

// Enqueue handles POST /v1/chat/conversations/:id/jobs
// @Summary Queue a research query
// @Description Gates the query like the stream endpoint and hands it to the worker pool
// @Tags Chat
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param request body requests.EnqueueJobRequest true "Query"
// @Success 202 {object} chat.EnqueueResult
// @Failure 400 {object} responses.ErrorResponse
// @Failure 429 {object} responses.ErrorResponse
// @Failure 503 {object} responses.ErrorResponse
// @Router /v1/chat/conversations/{id}/jobs [post]
func (h *ChatHandler) Enqueue(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req requests.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "query is required", "")
		return
	}

	result, err := h.service.Enqueue(c.Request.Context(), chat.StreamRequest{
		ConversationID: c.Param("id"),
		Query:          req.Query,
		Model:          req.Model,
		UserID:         p.UserID,
		IsStaff:        p.IsStaff,
	})
	if err != nil {
		responses.HandleError(c, err, "failed to queue query")
		return
	}

	c.JSON(http.StatusAccepted, result)
}
