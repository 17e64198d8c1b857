package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/configuration"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/handler"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/stream"
)

func StreamRouters(router *gin.Engine, container *configuration.Container) {
	streamRoute := router.Group("/rt/api", handler.Identity(true))
	{
		streamRoute.GET("/stream", container.SSEHandler.Serve)
		streamRoute.GET("/ws", container.WSHandler.Serve)
	}

	// The diagnostic stream needs no identity; it never touches user data.
	router.GET("/rt/api/diag/stream", stream.DiagStream)
}
