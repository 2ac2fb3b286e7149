// Package vectorindex 封装了向量索引的写入与相似度检索。
package vectorindex

import (
	"context"
	"fmt"

	"legal-rag-go/internal/config"
	"legal-rag-go/internal/model"
)

// Index 是问答链与导入流程共用的向量索引。
type Index interface {
	// Upsert 按 ID 写入条目，已存在的 ID 会被覆盖。
	Upsert(ctx context.Context, chunks []model.DocumentChunk) error
	// Query 返回与 vector 最相似的至多 topK 条记录，按相似度降序。
	Query(ctx context.Context, vector []float32, topK int) ([]model.SourceDocument, error)
	Count(ctx context.Context) (int, error)
}

// New 根据配置创建向量索引。
func New(cfg config.VectorIndexConfig) (Index, error) {
	switch cfg.Provider {
	case "elasticsearch":
		return NewElasticsearch(cfg)
	case "chromem":
		return NewChromem(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector index provider: %s", cfg.Provider)
	}
}
