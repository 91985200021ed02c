// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NekoFlux/CyberCompanion/internal/config"
	"github.com/NekoFlux/CyberCompanion/internal/di"
	"github.com/NekoFlux/CyberCompanion/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	container := di.GetContainer()
	manager, ok := container.Get("manager").(*services.Manager)
	if !ok {
		return nil, fmt.Errorf("会话管理器未正确初始化")
	}

	handler := NewHandler(manager)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(corsMiddleware())

	// WebSocket 推送
	r.GET("/ws/chat/:slid", handler.ChatWebSocket)

	api := r.Group("/api/v1")
	{
		api.POST("/chat", handler.Chat)

		chatGroup := api.Group("/chat")
		{
			chatGroup.GET("/:slid/history", handler.GetHistory)
			chatGroup.GET("/:slid/session", handler.GetSession)
		}

		charactersGroup := api.Group("/characters")
		{
			charactersGroup.GET("", handler.GetCharacters)
			charactersGroup.POST("", handler.SaveCharacter)
			charactersGroup.GET("/:slid", handler.GetCharacter)
		}

		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
		}

		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
