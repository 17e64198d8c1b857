package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/configuration"
)

func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorRoute := router.Group("/rt/api/monitor")
	{
		monitorRoute.GET("/stats", container.MonitorHandler.GetStats)
		monitorRoute.GET("/health", container.MonitorHandler.Health)
	}
}
