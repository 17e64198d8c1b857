package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/configuration"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/handler"
)

func RealtimeRouters(router *gin.Engine, container *configuration.Container) {
	api := router.Group("/rt/api", handler.Identity(true))
	{
		api.POST("/conversations/:conversationId/messages", container.MessageHandler.SendMessage)
		api.POST("/conversations/:conversationId/read", container.MessageHandler.MarkRead)
		api.GET("/conversations/:conversationId/messages/poll", container.MessageHandler.PollMessages)
		api.DELETE("/messages/:messageId", container.MessageHandler.DeleteMessage)

		api.POST("/calls", container.CallHandler.PlaceCall)
		api.POST("/calls/:callId/answer", container.CallHandler.AnswerCall)
		api.POST("/calls/:callId/decline", container.CallHandler.DeclineCall)
		api.POST("/calls/:callId/end", container.CallHandler.EndCall)
		api.GET("/calls/poll", container.CallHandler.PollRinging)
	}

	// sendBeacon cannot set headers and fires during page teardown, so the
	// identity is optional here.
	router.POST("/rt/api/calls/:callId/beacon", handler.Identity(false), container.CallHandler.Beacon)
}
