// Package embedding provides a client for turning text into vectors.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"legal-rag-go/internal/config"
	"legal-rag-go/pkg/log"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client defines the interface for an embedding client.
type Client interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// defaultBatchSize 与 langchaingo 的默认批大小一致。
const defaultBatchSize = 512

type client struct {
	embedder  embeddings.Embedder
	model     string
	batchSize int
	timeout   time.Duration
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) (Client, error) {
	httpClient := &http.Client{}
	var ec embeddings.EmbedderClient
	switch cfg.Provider {
	case "openai":
		token := cfg.APIKey
		if token == "" && cfg.BaseURL != "" {
			// 自建的 OpenAI 兼容服务通常不校验 key
			token = "EMPTY"
		}
		opts := []openai.Option{
			openai.WithToken(token),
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai embedding client: %w", err)
		}
		ec = llm
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama embedding client: %w", err)
		}
		ec = llm
	case "hash":
		ec = hashEmbedderClient(HashDimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	return newClient(ec, cfg.Model, cfg.BatchSize, cfg.Timeout)
}

func newClient(ec embeddings.EmbedderClient, model string, batchSize int, timeout time.Duration) (Client, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	e, err := embeddings.NewEmbedder(ec,
		embeddings.WithStripNewLines(false),
		embeddings.WithBatchSize(batchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &client{embedder: e, model: model, batchSize: batchSize, timeout: timeout}, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// EmbedDocuments calls the provider batch by batch and returns a vector per text.
// The timeout applies to each provider call, not to the whole pass.
func (c *client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	log.Infof("[EmbeddingClient] 开始批量向量化, model: %s, count: %d, batch: %d", c.model, len(texts), c.batchSize)

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			log.Errorf("[EmbeddingClient] 批量向量化失败, batch: [%d, %d), error: %v", start, end, err)
			return nil, fmt.Errorf("failed to embed documents [%d, %d): %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	log.Infof("[EmbeddingClient] 批量向量化成功, count: %d", len(vectors))
	return vectors, nil
}

func (c *client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.embedder.EmbedDocuments(ctx, texts)
}

// EmbedQuery embeds a single question.
func (c *client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vector, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vector) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, fmt.Errorf("received empty embedding")
	}
	return vector, nil
}
