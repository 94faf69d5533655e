package v1

import (
	"github.com/gin-gonic/gin"

	"jan-server/services/research-api/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

// NewRoutes builds the v1 route registrar.
func NewRoutes(handlerProvider *handlers.Provider) *Routes {
	return &Routes{
		handlers: handlerProvider,
	}
}

// Register attaches all v1 routes under /v1/chat.
func (r *Routes) Register(router gin.IRouter) {
	group := router.Group("/v1/chat")
	registerConversationRoutes(group, r.handlers)
	registerMessageRoutes(group, r.handlers.Message)
	registerEmailRoutes(group, r.handlers.Email)
}
