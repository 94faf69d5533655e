package v1

import (
	"github.com/gin-gonic/gin"

	"jan-server/services/research-api/internal/interfaces/httpserver/handlers"
)

func registerConversationRoutes(router gin.IRoutes, h *handlers.Provider) {
	router.POST("/conversations", h.Conversation.Create)
	router.GET("/conversations", h.Conversation.List)
	router.GET("/conversations/:id", h.Conversation.Get)
	router.PATCH("/conversations/:id", h.Conversation.Update)
	router.DELETE("/conversations/:id", h.Conversation.Delete)

	router.GET("/conversations/:id/stream", h.Chat.Stream)
	router.POST("/conversations/:id/jobs", h.Chat.Enqueue)

	router.GET("/conversations/:id/status", h.Job.Status)
	router.GET("/conversations/:id/health", h.Job.Health)
	router.POST("/conversations/:id/recover", h.Job.Recover)
	router.GET("/conversations/:id/progress", h.Job.Progress)
	router.GET("/conversations/:id/final", h.Job.Final)
}

func registerMessageRoutes(router gin.IRoutes, handler *handlers.MessageHandler) {
	router.GET("/messages/:id/tasks", handler.Tasks)
	router.POST("/messages/:id/feedback", handler.Feedback)
}

func registerEmailRoutes(router gin.IRoutes, handler *handlers.EmailHandler) {
	router.POST("/email", handler.Send)
	router.GET("/email/:queueId", handler.Status)
}
