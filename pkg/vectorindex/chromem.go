package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"legal-rag-go/internal/config"
	"legal-rag-go/internal/model"
	"legal-rag-go/pkg/log"

	"github.com/philippgille/chromem-go"
)

type chromemIndex struct {
	collection *chromem.Collection
}

// 向量总是由 embedding 客户端提前算好，集合不应自行调用模型。
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index expects precomputed embeddings")
}

// NewChromem 创建一个进程内的向量索引，配置了 persist_path 时会落盘。
func NewChromem(cfg config.VectorIndexConfig) (Index, error) {
	var db *chromem.DB
	if cfg.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	col, err := db.GetOrCreateCollection(cfg.IndexName, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to create chromem collection: %w", err)
	}
	log.Infof("[VectorIndex] chromem 集合 '%s' 已就绪, 现有 %d 条记录", cfg.IndexName, col.Count())
	return &chromemIndex{collection: col}, nil
}

func (i *chromemIndex) Upsert(ctx context.Context, chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Metadata:  c.Metadata,
			Embedding: c.Embedding,
			Content:   c.Text,
		})
	}
	if err := i.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem upsert failed: %w", err)
	}
	return nil
}

func (i *chromemIndex) Query(ctx context.Context, vector []float32, topK int) ([]model.SourceDocument, error) {
	n := i.collection.Count()
	if topK > n {
		topK = n
	}
	if topK <= 0 {
		return []model.SourceDocument{}, nil
	}
	results, err := i.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}
	out := make([]model.SourceDocument, 0, len(results))
	for _, r := range results {
		text := r.Metadata[model.MetadataText]
		if text == "" {
			text = r.Content
		}
		out = append(out, model.SourceDocument{
			ID:       r.ID,
			Text:     text,
			Score:    float64(r.Similarity),
			Metadata: r.Metadata,
		})
	}
	return out, nil
}

func (i *chromemIndex) Count(context.Context) (int, error) {
	return i.collection.Count(), nil
}
