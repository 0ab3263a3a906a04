package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(callController *CallController, conversationController *ConversationController, allowOrigins []string) *gin.Engine {
	router := gin.Default()
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"http://localhost:3000"}
	}
	config := cors.DefaultConfig()
	config.AllowOrigins = allowOrigins
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	if callController != nil {
		calls := api.Group("/calls")
		calls.POST("", callController.StartCall)
		calls.GET("/incoming/ws", callController.WatchIncoming)
		calls.GET("/:conversationID", callController.GetCall)
		calls.POST("/:conversationID/hangup", callController.Hangup)
		calls.POST("/:conversationID/mute", callController.SetMuted)
		calls.POST("/:conversationID/camera", callController.SetCameraOff)
		calls.GET("/:conversationID/ws", callController.WatchCall)
		calls.POST("/:conversationID/decline", callController.Decline)
	}

	if conversationController != nil {
		conversations := api.Group("/conversations")
		conversations.GET("/:conversationID", conversationController.GetSummary)
	}

	return router
}
