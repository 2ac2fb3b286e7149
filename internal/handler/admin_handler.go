package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"legal-rag-go/internal/apperror"
	"legal-rag-go/internal/service"
	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/tasks"
	"legal-rag-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EnqueueFunc 把导入任务投递到队列，生产环境下是 kafka.ProduceIngestionTask。
type EnqueueFunc func(ctx context.Context, task tasks.IngestionTask) error

// AdminHandler 负责处理管理员的导入相关请求。
type AdminHandler struct {
	ingestService service.IngestService
	enqueue       EnqueueFunc
	errors        errorResponder
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(ingestService service.IngestService, enqueue EnqueueFunc, exposeErrorDetail bool) *AdminHandler {
	return &AdminHandler{
		ingestService: ingestService,
		enqueue:       enqueue,
		errors:        errorResponder{exposeDetail: exposeErrorDetail},
	}
}

// TriggerIngest 把一次导入请求放入任务队列，立即返回任务 ID。
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	var req service.IngestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.errors.respond(c, apperror.InvalidInput("invalid ingest request body"))
			return
		}
	}
	if req.Limit < 0 {
		h.errors.respond(c, apperror.InvalidInput("limit must not be negative"))
		return
	}

	requestedBy := ""
	if v, ok := c.Get("claims"); ok {
		requestedBy = v.(*token.CustomClaims).Subject
	}
	task := tasks.IngestionTask{
		TaskID:      uuid.NewString(),
		Dataset:     req.Dataset,
		Split:       req.Split,
		Limit:       req.Limit,
		RequestedBy: requestedBy,
		RequestedAt: time.Now(),
	}
	if err := h.enqueue(c.Request.Context(), task); err != nil {
		h.errors.respond(c, apperror.Upstream("failed to enqueue ingestion task", err))
		return
	}

	log.Infof("[AdminHandler] 导入任务已入队, TaskID: %s, by: %s", task.TaskID, requestedBy)
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.TaskID})
}

// ListIngestRuns 返回最近的导入记录。
func (h *AdminHandler) ListIngestRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		h.errors.respond(c, apperror.InvalidInput("limit must be between 1 and 200"))
		return
	}
	runs, err := h.ingestService.ListRuns(limit)
	if err != nil {
		h.errors.respond(c, apperror.Internal("failed to list ingestion runs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
