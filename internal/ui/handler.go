package ui

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"legal-rag-go/internal/config"
	"legal-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

//go:embed templates/chat.html
var templateFS embed.FS

const (
	sessionCookie = "legal_rag_session"
	templateName  = "chat.html"
)

// Asker 把问题发送到问答接口，返回展示文本。
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) string
}

// Handler 渲染聊天页面并处理提交。
type Handler struct {
	asker       Asker
	footer      string
	transcripts *transcriptStore
}

// NewHandler 创建一个新的聊天页面 Handler，超过 ttl 未访问的聊天记录会被丢弃。
func NewHandler(asker Asker, cfg config.UIConfig, ttl time.Duration) *Handler {
	return &Handler{asker: asker, footer: cfg.Footer, transcripts: newTranscriptStore(ttl)}
}

// Template 返回嵌入的页面模板。
func Template() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/"+templateName))
}

// Register 在 engine 上注册页面路由，engine 的 HTML 模板被设置为聊天页面。
func (h *Handler) Register(r *gin.Engine) {
	r.SetHTMLTemplate(Template())
	r.GET("/chat", h.Show)
	r.POST("/chat", h.Submit)
	r.POST("/chat/reset", h.Reset)
}

// Show 渲染当前浏览器会话的完整聊天记录。
func (h *Handler) Show(c *gin.Context) {
	sessionID := h.session(c)
	c.HTML(http.StatusOK, templateName, gin.H{
		"History": h.transcripts.list(sessionID),
		"Footer":  h.footer,
	})
}

// Submit 提交问题，无论成功与否都把这一问一答追加到记录中。
func (h *Handler) Submit(c *gin.Context) {
	sessionID := h.session(c)
	question := c.PostForm("query")
	if strings.TrimSpace(question) != "" {
		answer := h.asker.Ask(c.Request.Context(), sessionID, question)
		h.transcripts.append(sessionID, Exchange{Question: question, Answer: answer})
	}
	c.Redirect(http.StatusSeeOther, "/chat")
}

// Reset 清空当前浏览器会话的聊天记录。
func (h *Handler) Reset(c *gin.Context) {
	h.transcripts.reset(h.session(c))
	c.Redirect(http.StatusSeeOther, "/chat")
}

// session 读取浏览器会话 cookie，没有时生成一个新的。
func (h *Handler) session(c *gin.Context) string {
	if id, err := c.Cookie(sessionCookie); err == nil && id != "" && len(id) <= 128 {
		return id
	}
	id := uuid.NewString()
	c.SetCookie(sessionCookie, id, 0, "/", "", false, true)
	log.Debugf("[UI] 新的浏览器会话: %s", id)
	return id
}
