package service

import (
	"context"
	"strconv"
	"time"

	"legal-rag-go/internal/apperror"
	"legal-rag-go/internal/config"
	"legal-rag-go/internal/model"
	"legal-rag-go/internal/repository"
	"legal-rag-go/pkg/dataset"
	"legal-rag-go/pkg/embedding"
	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/vectorindex"
)

// IngestRequest 描述一次导入，空字段使用配置中的默认数据集。
type IngestRequest struct {
	Dataset string `json:"dataset"`
	Split   string `json:"split"`
	Limit   int    `json:"limit"`
}

// IngestReport 是一次成功导入的结果。
type IngestReport struct {
	RunID    uint          `json:"run_id"`
	Dataset  string        `json:"dataset"`
	Split    string        `json:"split"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
}

// IngestService 负责把数据集写入向量索引。
type IngestService interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error)
	ListRuns(limit int) ([]model.IngestionRun, error)
}

type ingestService struct {
	source     dataset.Source
	embedder   embedding.Client
	index      vectorindex.Index
	runRepo    repository.IngestionRunRepository
	defaults   config.DatasetConfig
	sourceName string
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(
	source dataset.Source,
	embedder embedding.Client,
	index vectorindex.Index,
	runRepo repository.IngestionRunRepository,
	defaults config.DatasetConfig,
) IngestService {
	return &ingestService{
		source:     source,
		embedder:   embedder,
		index:      index,
		runRepo:    runRepo,
		defaults:   defaults,
		sourceName: defaults.Source,
	}
}

// Ingest 读取数据集的每条记录，批量向量化后一次性写入索引。
// 条目 ID 为记录下标，因此对同一数据集重复导入会覆盖而不是追加。
func (s *ingestService) Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	if req.Dataset == "" {
		req.Dataset = s.defaults.Name
	}
	if req.Split == "" {
		req.Split = s.defaults.Split
	}
	if req.Limit == 0 {
		req.Limit = s.defaults.Limit
	}
	if req.Dataset == "" {
		return nil, apperror.InvalidInput("dataset name must not be empty")
	}

	start := time.Now()
	run := &model.IngestionRun{
		Dataset:   req.Dataset,
		Split:     req.Split,
		Source:    s.sourceName,
		Status:    model.IngestionRunning,
		StartedAt: start,
	}
	if err := s.runRepo.Create(run); err != nil {
		log.Errorf("[IngestService] 创建导入记录失败: %v", err)
		return nil, apperror.Internal("failed to record ingestion run", err)
	}
	log.Infof("[IngestService] 开始导入, run: %d, dataset: %s, split: %s, source: %s", run.ID, req.Dataset, req.Split, s.sourceName)

	records, err := s.ingest(ctx, req)
	finished := time.Now()
	run.FinishedAt = &finished
	run.Records = records
	if err != nil {
		run.Status = model.IngestionFailed
		run.Error = err.Error()
		if uerr := s.runRepo.Update(run); uerr != nil {
			log.Errorf("[IngestService] 更新导入记录失败: %v", uerr)
		}
		log.Errorf("[IngestService] 导入失败, run: %d, error: %v", run.ID, err)
		return nil, err
	}

	run.Status = model.IngestionSucceeded
	if err := s.runRepo.Update(run); err != nil {
		log.Errorf("[IngestService] 更新导入记录失败: %v", err)
	}
	report := &IngestReport{
		RunID:    run.ID,
		Dataset:  req.Dataset,
		Split:    req.Split,
		Records:  records,
		Duration: finished.Sub(start),
	}
	log.Infof("[IngestService] 导入完成, run: %d, records: %d, 耗时: %s", run.ID, records, report.Duration)
	return report, nil
}

func (s *ingestService) ingest(ctx context.Context, req IngestRequest) (int, error) {
	// 1. 加载数据集
	texts, err := s.source.Load(ctx, req.Dataset, req.Split, req.Limit)
	if err != nil {
		return 0, apperror.Upstream("failed to load dataset", err)
	}
	if len(texts) == 0 {
		return 0, apperror.InvalidInput("dataset contains no records")
	}
	log.Infof("[IngestService] 步骤1: 数据集加载成功, 共 %d 条记录", len(texts))

	// 2. 批量向量化
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, apperror.Upstream("failed to embed dataset", err)
	}
	if len(vectors) != len(texts) {
		return 0, apperror.Upstream("embedding count mismatch", nil)
	}
	log.Infof("[IngestService] 步骤2: 向量化完成")

	// 3. 组装条目并一次写入
	chunks := make([]model.DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = model.DocumentChunk{
			ID:        strconv.Itoa(i),
			Text:      text,
			Embedding: vectors[i],
			Metadata: map[string]string{
				model.MetadataText:    text,
				model.MetadataDataset: req.Dataset,
			},
		}
	}
	if err := s.index.Upsert(ctx, chunks); err != nil {
		return 0, apperror.Upstream("failed to upsert into vector index", err)
	}
	log.Infof("[IngestService] 步骤3: 已写入向量索引 %d 条", len(chunks))
	return len(chunks), nil
}

func (s *ingestService) ListRuns(limit int) ([]model.IngestionRun, error) {
	runs, err := s.runRepo.ListRecent(limit)
	if err != nil {
		return nil, apperror.Internal("failed to list ingestion runs", err)
	}
	return runs, nil
}
