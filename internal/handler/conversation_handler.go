package handler

import (
	"net/http"

	"legal-rag-go/internal/apperror"
	"legal-rag-go/internal/middleware"
	"legal-rag-go/internal/model"
	"legal-rag-go/internal/repository"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与会话记忆相关的 API 请求。
type ConversationHandler struct {
	repo   repository.ConversationRepository
	errors errorResponder
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(repo repository.ConversationRepository, exposeErrorDetail bool) *ConversationHandler {
	return &ConversationHandler{repo: repo, errors: errorResponder{exposeDetail: exposeErrorDetail}}
}

// GetConversation 返回某个会话的全部问答轮次。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	sessionID := c.Param("session_id")
	c.Set(middleware.SessionIDKey, sessionID)

	turns, err := h.repo.GetTurns(c.Request.Context(), sessionID)
	if err != nil {
		h.errors.respond(c, apperror.Internal("failed to load conversation", err))
		return
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "turns": turns})
}

// DeleteConversation 清空某个会话的记忆。
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	sessionID := c.Param("session_id")
	c.Set(middleware.SessionIDKey, sessionID)

	if err := h.repo.Clear(c.Request.Context(), sessionID); err != nil {
		h.errors.respond(c, apperror.Internal("failed to clear conversation", err))
		return
	}
	c.Status(http.StatusNoContent)
}
