// internal/api/handlers.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NekoFlux/CyberCompanion/internal/backend"
	"github.com/NekoFlux/CyberCompanion/internal/config"
	"github.com/NekoFlux/CyberCompanion/internal/models"
	"github.com/NekoFlux/CyberCompanion/internal/services"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

// Handler API处理器
type Handler struct {
	Manager *services.Manager
}

// NewHandler 创建API处理器
func NewHandler(manager *services.Manager) *Handler {
	return &Handler{Manager: manager}
}

// chatRequest 聊天请求体
type chatRequest struct {
	SlID    string `json:"sl_id" binding:"required"`
	Message string `json:"message" binding:"required"`
	Stream  bool   `json:"stream"`
}

// Chat 发送一条消息
// stream=true 时以SSE逐片段转发，结束帧为 data: [DONE]
func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	profile, err := h.Manager.LoadProfile(req.SlID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "角色不存在"})
		return
	}
	svc := h.Manager.SessionFor(profile)

	if !req.Stream {
		final, err := svc.SendMessage(c.Request.Context(), req.Message, nil)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"turn":     final,
			"feedback": svc.Session().Feedback(),
		})
		return
	}

	// SSE转发：增量帧按到达顺序原样推给客户端
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	final, err := svc.SendMessage(c.Request.Context(), req.Message, func(d backend.StreamDelta) {
		frame, _ := json.Marshal(d)
		fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
		c.Writer.Flush()

		hub.BroadcastToSession(req.SlID, map[string]interface{}{
			"type":     "delta",
			"seq":      d.SequenceIndex,
			"fragment": d.TextFragment,
		})
	})
	if err != nil {
		utils.GetLogger().Error("流式聊天失败", map[string]interface{}{
			"slid": req.SlID, "err": err.Error(),
		})
		errFrame, _ := json.Marshal(gin.H{"error": err.Error()})
		fmt.Fprintf(c.Writer, "data: %s\n\n", errFrame)
		c.Writer.Flush()
		return
	}

	finalFrame, _ := json.Marshal(gin.H{"type": "final", "turn": final})
	fmt.Fprintf(c.Writer, "data: %s\n\n", finalFrame)
	fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()

	hub.BroadcastToSession(req.SlID, map[string]interface{}{
		"type":      "final",
		"chat_id":   final.TurnID,
		"content":   final.Content,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetHistory 拉取指定角色最近的历史回合
func (h *Handler) GetHistory(c *gin.Context) {
	slid := c.Param("slid")
	cnt, err := strconv.Atoi(c.DefaultQuery("cnt", "5"))
	if err != nil || cnt <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cnt参数无效"})
		return
	}

	turns, err := h.Manager.LoadHistory(c.Request.Context(), slid, cnt)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"turns":    turns,
		"has_more": len(turns) >= cnt,
	})
}

// GetSession 返回指定角色的本地会话状态
func (h *Handler) GetSession(c *gin.Context) {
	profile, err := h.Manager.LoadProfile(c.Param("slid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "角色不存在"})
		return
	}
	session := h.Manager.SessionFor(profile).Session()
	c.JSON(http.StatusOK, gin.H{
		"turns":    session.Turns(),
		"feedback": session.Feedback(),
	})
}

// GetCharacters 列出全部角色档案
func (h *Handler) GetCharacters(c *gin.Context) {
	profiles, err := h.Manager.ListProfiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": profiles})
}

// GetCharacter 读取单个角色档案
func (h *Handler) GetCharacter(c *gin.Context) {
	profile, err := h.Manager.LoadProfile(c.Param("slid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "角色不存在"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// SaveCharacter 保存角色档案
func (h *Handler) SaveCharacter(c *gin.Context) {
	var profile models.CharacterProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	if err := h.Manager.SaveProfile(profile); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sl_id": profile.SlID})
}

// GetSettings 返回当前后端设置
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()
	c.JSON(http.StatusOK, gin.H{
		"api_setting": cfg.APISetting,
		"backends":    backend.List(),
	})
}

// settingsRequest 设置更新请求体
type settingsRequest struct {
	APISetting string `json:"api_setting" binding:"required"`
}

// SaveSettings 切换聊天后端并持久化选择
func (h *Handler) SaveSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	if err := config.UpdateAPISetting(req.APISetting); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Manager.SwitchBackend(req.APISetting); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_setting": req.APISetting})
}

// ChatWebSocket 订阅指定角色会话的实时推送
func (h *Handler) ChatWebSocket(c *gin.Context) {
	slid := c.Param("slid")
	if slid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少slid"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Error("WebSocket升级失败", map[string]interface{}{"err": err.Error()})
		return
	}

	serveClient(&wsClient{
		conn: conn,
		slid: slid,
		send: make(chan []byte, 64),
	})
}

// GetWebSocketStatus 返回连接概况
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	c.JSON(http.StatusOK, hub.Status())
}
