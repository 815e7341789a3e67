package router

import (
	"github.com/gin-gonic/gin"

	"github.com/streakline/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API) *gin.Engine {
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// 所有业务接口都需要 X-User-ID
	authorized := r.Group("/api")
	authorized.Use(handler.RequireUser())
	{
		authorized.GET("/me", api.GetMe)

		authorized.GET("/checkins", api.ListCheckIns)
		authorized.POST("/checkins", api.RecordCheckIn)
		authorized.POST("/checkins/:date/cycle", api.CycleCheckIn)

		authorized.GET("/quota/:resource", api.GetQuota)
		authorized.POST("/quota/:resource/consume", api.ConsumeQuota)

		authorized.POST("/nutrition/food", api.AnalyzeFood)
		authorized.POST("/nutrition/body-scan", api.AnalyzeBodyScan)

		authorized.POST("/distress", api.BroadcastDistress)
		authorized.GET("/notifications", api.ListNotifications)
		authorized.POST("/notifications/read", api.MarkNotificationsRead)

		authorized.POST("/invitations/redeem", api.RedeemInvitation)
		authorized.POST("/friends", api.RequestFriend)
		authorized.POST("/friends/:id/respond", api.RespondFriend)
	}

	return r
}
