package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"legal-rag-go/internal/apperror"
	"legal-rag-go/internal/middleware"
	"legal-rag-go/internal/model"
	"legal-rag-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// SessionHeader 允许调用方通过请求头传递会话 ID。
	SessionHeader  = "X-Session-ID"
	welcomeMessage = "Welcome to the Agentic RAG Legal Assistant!"
	maxSessionLen  = 128
)

// QueryRequest 是 POST /query/ 的请求体。
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// QueryResponse 是 POST /query/ 的成功响应。
type QueryResponse struct {
	Response  string                 `json:"response"`
	SessionID string                 `json:"session_id"`
	Sources   []model.SourceDocument `json:"sources,omitempty"`
}

// QueryHandler 处理问答相关的请求。
type QueryHandler struct {
	chainService   service.ChainService
	maxQueryLength int
	withSources    bool
	errors         errorResponder
}

// NewQueryHandler 创建一个新的 QueryHandler。
func NewQueryHandler(chainService service.ChainService, maxQueryLength int, withSources, exposeErrorDetail bool) *QueryHandler {
	return &QueryHandler{
		chainService:   chainService,
		maxQueryLength: maxQueryLength,
		withSources:    withSources,
		errors:         errorResponder{exposeDetail: exposeErrorDetail},
	}
}

// Root 返回欢迎信息。
func (h *QueryHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": welcomeMessage})
}

// Healthz 用于存活探测。
func (h *QueryHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Query 处理一次问答请求。
func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errors.respond(c, apperror.InvalidInput("request body must be JSON with a \"query\" field"))
		return
	}

	sessionID, err := resolveSessionID(req.SessionID, c.GetHeader(SessionHeader))
	if err != nil {
		h.errors.respond(c, err)
		return
	}
	c.Set(middleware.SessionIDKey, sessionID)

	if err := validateQuery(req.Query, h.maxQueryLength); err != nil {
		h.errors.respond(c, err)
		return
	}

	result, err := h.chainService.Ask(c.Request.Context(), sessionID, req.Query)
	if err != nil {
		h.errors.respond(c, err)
		return
	}

	resp := QueryResponse{Response: result.Answer, SessionID: sessionID}
	if h.withSources {
		resp.Sources = result.Sources
	}
	c.JSON(http.StatusOK, resp)
}

// resolveSessionID 依次使用请求体、请求头中的会话 ID，都没有时生成新的 UUID。
func resolveSessionID(fromBody, fromHeader string) (string, error) {
	id := strings.TrimSpace(fromBody)
	if id == "" {
		id = strings.TrimSpace(fromHeader)
	}
	if id == "" {
		return uuid.NewString(), nil
	}
	if len(id) > maxSessionLen {
		return "", apperror.InvalidInput("session_id is too long")
	}
	return id, nil
}

func validateQuery(query string, maxLen int) error {
	if strings.TrimSpace(query) == "" {
		return apperror.InvalidInput("query must not be empty")
	}
	if maxLen > 0 && utf8.RuneCountInString(query) > maxLen {
		return apperror.InvalidInput("query is too long")
	}
	return nil
}
