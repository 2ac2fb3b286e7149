package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"legal-rag-go/internal/service"
	"legal-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// streamRequest 是客户端通过 WebSocket 发送的一条问题。
type streamRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// StreamHandler 负责处理 WebSocket 流式问答连接。
type StreamHandler struct {
	chainService   service.ChainService
	maxQueryLength int
	errors         errorResponder
	upgrader       websocket.Upgrader
}

// NewStreamHandler 创建一个新的 StreamHandler。
// 浏览器发起的升级请求必须来自 allowedOrigins 之一，"*" 表示不限制；没有 Origin 头的请求直接放行。
func NewStreamHandler(chainService service.ChainService, maxQueryLength int, exposeErrorDetail bool, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		chainService:   chainService,
		maxQueryLength: maxQueryLength,
		errors:         errorResponder{exposeDetail: exposeErrorDetail},
		upgrader:       websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		log.Warnf("[StreamHandler] 拒绝来源 %s 的 WebSocket 连接", origin)
		return false
	}
}

// Handle 处理一个传入的 WebSocket 连接，每条文本消息是一次提问。
func (h *StreamHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	headerSession := c.GetHeader(SessionHeader)
	log.Infof("[StreamHandler] WebSocket 连接已建立, remote: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("[StreamHandler] 从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req streamRequest
		if err := json.Unmarshal(message, &req); err != nil {
			// 非 JSON 消息按纯文本问题处理
			req.Query = string(message)
		}

		sessionID, err := resolveSessionID(req.SessionID, headerSession)
		if err == nil {
			err = validateQuery(req.Query, h.maxQueryLength)
		}
		if err == nil {
			_, err = h.chainService.AskStream(c.Request.Context(), sessionID, req.Query, func(chunk []byte) error {
				return writeJSON(conn, map[string]string{"chunk": string(chunk)})
			})
		}
		if err != nil {
			log.Errorf("[StreamHandler] 处理流式响应失败: %v", err)
			_ = writeJSON(conn, map[string]string{"error": h.errors.detail(err)})
		}
		if werr := writeJSON(conn, completionFrame(sessionID)); werr != nil {
			log.Warnf("[StreamHandler] 发送完成通知失败: %v", werr)
			break
		}
	}
}

func completionFrame(sessionID string) map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"type":       "completion",
		"status":     "finished",
		"message":    "response completed",
		"session_id": sessionID,
		"timestamp":  now.UnixMilli(),
		"date":       now.Format("2006-01-02T15:04:05"),
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
