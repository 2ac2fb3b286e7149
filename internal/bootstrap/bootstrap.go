// Package bootstrap 按配置组装 cmd/server 与 cmd/ingest 共用的依赖。
package bootstrap

import (
	"legal-rag-go/internal/apperror"
	"legal-rag-go/internal/config"
	"legal-rag-go/internal/repository"
	"legal-rag-go/internal/service"
	"legal-rag-go/pkg/database"
	"legal-rag-go/pkg/dataset"
	"legal-rag-go/pkg/embedding"
	"legal-rag-go/pkg/llm"
	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/storage"
	"legal-rag-go/pkg/vectorindex"
)

// Stores 初始化数据库与 Redis 连接。MySQL DSN 为空时不连接 MySQL；
// Redis 只在会话记忆或导入消费者需要时连接。
func Stores(cfg config.Config, needRedis bool) {
	if cfg.Database.MySQL.DSN != "" {
		database.InitMySQL(cfg.Database.MySQL.DSN)
	}
	if needRedis || cfg.Memory.Store == "redis" {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	}
	if cfg.Dataset.Source == "minio" {
		storage.InitMinIO(cfg.MinIO)
	}
}

// Retrieval 创建 embedding 客户端与向量索引。
func Retrieval(cfg config.Config) (embedding.Client, vectorindex.Index, error) {
	embedder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		return nil, nil, apperror.Configuration("failed to create embedding client", err)
	}
	index, err := vectorindex.New(cfg.VectorIndex)
	if err != nil {
		return nil, nil, apperror.Configuration("failed to open vector index", err)
	}
	return embedder, index, nil
}

// ConversationRepository 按 memory.store 选择会话记忆的实现。
func ConversationRepository(cfg config.Config) repository.ConversationRepository {
	if cfg.Memory.Store == "redis" {
		log.Infof("[Bootstrap] 会话记忆使用 Redis, max_turns: %d, ttl: %s", cfg.Memory.MaxTurns, cfg.Memory.TTL)
		return repository.NewConversationRepository(database.RDB, cfg.Memory.MaxTurns, cfg.Memory.TTL)
	}
	log.Infof("[Bootstrap] 会话记忆使用进程内存, max_turns: %d", cfg.Memory.MaxTurns)
	return repository.NewMemoryConversationRepository(cfg.Memory.MaxTurns, cfg.Memory.TTL)
}

// ChainService 创建问答链，缺少 LLM 凭据等配置错误会在这里返回。
func ChainService(cfg config.Config, embedder embedding.Client, index vectorindex.Index, repo repository.ConversationRepository) (service.ChainService, error) {
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, apperror.Configuration("failed to create llm client", err)
	}
	return service.NewChainService(embedder, index, llmClient, repo, cfg.LLM.Prompt, cfg.Retrieval), nil
}

// IngestService 创建导入服务，导入台账在未配置 MySQL 时保存在内存中。
func IngestService(cfg config.Config, embedder embedding.Client, index vectorindex.Index) (service.IngestService, error) {
	source, err := dataset.New(cfg.Dataset, cfg.MinIO)
	if err != nil {
		return nil, apperror.Configuration("failed to create dataset source", err)
	}
	var runRepo repository.IngestionRunRepository
	if database.DB != nil {
		runRepo = repository.NewIngestionRunRepository(database.DB)
	} else {
		runRepo = repository.NewMemoryIngestionRunRepository()
	}
	return service.NewIngestService(source, embedder, index, runRepo, cfg.Dataset), nil
}
