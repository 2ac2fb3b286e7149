// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"legal-rag-go/internal/apperror"
	"legal-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// errorResponder 把分类错误转换为 {"detail": ...} 响应。
type errorResponder struct {
	exposeDetail bool
}

func (r errorResponder) detail(err error) string {
	if r.exposeDetail {
		return err.Error()
	}
	return apperror.PublicMessage(err)
}

func (r errorResponder) respond(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	if kind != apperror.KindInvalidInput {
		log.Errorw("请求处理失败", "path", c.FullPath(), "kind", string(kind), "error", err)
	}
	c.AbortWithStatusJSON(apperror.HTTPStatus(kind), gin.H{"detail": r.detail(err)})
}
