package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"legal-rag-go/internal/config"
	"legal-rag-go/internal/model"
	"legal-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

type esIndex struct {
	client    *elasticsearch.Client
	indexName string
	batchSize int
	timeout   time.Duration
}

// esDocument 是存储在 Elasticsearch 中的文档结构。
type esDocument struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Dataset string    `json:"dataset,omitempty"`
	Vector  []float32 `json:"vector,omitempty"`
}

// NewElasticsearch 初始化 Elasticsearch 客户端，并在索引不存在时创建它。
// environment 非空时作为 Cloud ID 使用，否则连接 addresses。
func NewElasticsearch(cfg config.VectorIndexConfig) (Index, error) {
	esCfg := elasticsearch.Config{APIKey: cfg.APIKey}
	if cfg.Environment != "" {
		esCfg.CloudID = cfg.Environment
	} else {
		esCfg.Addresses = cfg.Addresses
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	idx := &esIndex{client: client, indexName: cfg.IndexName, batchSize: cfg.BatchSize, timeout: cfg.Timeout}
	if idx.batchSize <= 0 {
		idx.batchSize = 500
	}
	if err := idx.createIndexIfNotExists(context.Background(), cfg.Dimensions); err != nil {
		return nil, err
	}
	return idx, nil
}

// withTimeout 为单次 Elasticsearch 请求设置超时。
func (i *esIndex) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.timeout)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (i *esIndex) createIndexIfNotExists(ctx context.Context, dims int) error {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	res, err := i.client.Indices.Exists([]string{i.indexName}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", i.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", i.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"dataset": { "type": "keyword" },
				"text": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dims)

	res, err = i.client.Indices.Create(
		i.indexName,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", i.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", i.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", i.indexName)
	return nil
}

// Upsert 通过 bulk index 写入条目，同 ID 的文档会被整体替换。
func (i *esIndex) Upsert(ctx context.Context, chunks []model.DocumentChunk) error {
	for start := 0; start < len(chunks); start += i.batchSize {
		end := start + i.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		last := end == len(chunks)
		if err := i.bulk(ctx, chunks[start:end], last); err != nil {
			return err
		}
		log.Infof("[VectorIndex] 已写入 %d/%d 条记录", end, len(chunks))
	}
	return nil
}

func (i *esIndex) bulk(ctx context.Context, chunks []model.DocumentChunk, refresh bool) error {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		action := map[string]interface{}{"index": map[string]string{"_index": i.indexName, "_id": c.ID}}
		if err := enc.Encode(action); err != nil {
			return err
		}
		doc := esDocument{ID: c.ID, Text: c.Metadata[model.MetadataText], Dataset: c.Metadata[model.MetadataDataset], Vector: c.Embedding}
		if doc.Text == "" {
			doc.Text = c.Text
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	opts := []func(*esapi.BulkRequest){i.client.Bulk.WithContext(ctx)}
	if refresh {
		opts = append(opts, i.client.Bulk.WithRefresh("true"))
	}
	res, err := i.client.Bulk(bytes.NewReader(buf.Bytes()), opts...)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorIndex] bulk 写入返回错误, status: %s, body: %s", res.Status(), string(body))
		return fmt.Errorf("elasticsearch bulk returned %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID    string          `json:"_id"`
			Error json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if len(r.Error) > 0 {
					return fmt.Errorf("elasticsearch rejected document %s: %s", r.ID, string(r.Error))
				}
			}
		}
		return errors.New("elasticsearch bulk reported errors")
	}
	return nil
}

// Query 使用 kNN 检索最相似的文档。
func (i *esIndex) Query(ctx context.Context, vector []float32, topK int) ([]model.SourceDocument, error) {
	candidates := topK * 10
	if candidates < 100 {
		candidates = 100
	}
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": candidates,
		},
		"_source": []string{"id", "text", "dataset"},
		"size":    topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.indexName),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[VectorIndex] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string     `json:"_id"`
				Score  float64    `json:"_score"`
				Source esDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	out := make([]model.SourceDocument, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		meta := map[string]string{model.MetadataText: h.Source.Text}
		if h.Source.Dataset != "" {
			meta[model.MetadataDataset] = h.Source.Dataset
		}
		out = append(out, model.SourceDocument{ID: h.ID, Text: h.Source.Text, Score: h.Score, Metadata: meta})
	}
	return out, nil
}

func (i *esIndex) Count(ctx context.Context) (int, error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	res, err := i.client.Count(
		i.client.Count.WithContext(ctx),
		i.client.Count.WithIndex(i.indexName),
	)
	if err != nil {
		return 0, fmt.Errorf("elasticsearch count failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("elasticsearch count returned %s", res.Status())
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return body.Count, nil
}
