package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qs3c/review_go_server/internal/pkg/jwt"
	"github.com/qs3c/review_go_server/internal/pkg/ws"
	"github.com/qs3c/review_go_server/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境需要验证 Origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WebSocketHandler struct {
	hub             *ws.Hub
	analysisService *service.AnalysisService
	jwtSecret       string
}

func NewWebSocketHandler(hub *ws.Hub, analysisService *service.AnalysisService, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:             hub,
		analysisService: analysisService,
		jwtSecret:       jwtSecret,
	}
}

// Handle 按任务订阅的 WebSocket 进度流
// GET /api/v1/analysis/ws/:jobID?token=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	// 验证 JWT Token
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	if _, err := jwt.ParseToken(token, h.jwtSecret); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	jobID := c.Param("jobID")

	// 升级连接
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &ws.Client{
		JobID: jobID,
		Conn:  conn,
	}

	h.hub.Register(client)

	// 连接哨兵 + 当前快照，晚到的订阅者不丢已有进度
	if err := client.Send(&ws.Message{Type: "connected"}); err != nil {
		h.hub.Unregister(client)
		conn.Close()
		return
	}
	if status, err := h.analysisService.GetStatus(jobID); err == nil {
		if err := client.Send(&ws.Message{Type: "progress", Data: status}); err != nil {
			log.Printf("Job %s: send snapshot: %v", jobID, err)
		}
	}

	// 保持连接，读取消息（主要用于检测断开）
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}
