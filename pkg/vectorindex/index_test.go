package vectorindex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"legal-rag-go/internal/config"
	"legal-rag-go/internal/model"
)

func chunk(id, text string, vec ...float32) model.DocumentChunk {
	return model.DocumentChunk{
		ID:        id,
		Text:      text,
		Embedding: vec,
		Metadata:  map[string]string{model.MetadataText: text, model.MetadataDataset: "test"},
	}
}

func TestChromemUpsertOverwritesAndQueries(t *testing.T) {
	idx, err := NewChromem(config.VectorIndexConfig{IndexName: "test"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if err := idx.Upsert(ctx, []model.DocumentChunk{
		chunk("0", "tax", 1, 0, 0),
		chunk("1", "court", 0, 1, 0),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// 同一 ID 再次写入应覆盖而不是追加
	if err := idx.Upsert(ctx, []model.DocumentChunk{chunk("0", "tax code", 1, 0, 0)}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	n, _ := idx.Count(ctx)
	if n != 2 {
		t.Fatalf("expected 2 entries after overwrite, got %d", n)
	}

	// topK 大于条目数时不报错
	results, err := idx.Query(ctx, []float32{0.9, 0.1, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "0" || results[0].Text != "tax code" {
		t.Fatalf("unexpected best match: %+v", results[0])
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("results not ordered by similarity")
	}
}

func TestChromemQueryEmptyIndex(t *testing.T) {
	idx, _ := NewChromem(config.VectorIndexConfig{IndexName: "empty"})
	results, err := idx.Query(context.Background(), []float32{1, 0}, 4)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

// fakeES 模拟 Elasticsearch 中本包用到的几个接口。
type fakeES struct {
	mu        sync.Mutex
	bulkLines []string
	created   bool
	// searchDelay 让搜索请求变慢，用于验证超时。
	searchDelay time.Duration
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(r.URL.Path, "/_search") && f.searchDelay > 0 {
		select {
		case <-time.After(f.searchDelay):
		case <-r.Context().Done():
			return
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/agenticrag":
		if f.created {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/agenticrag":
		f.created = true
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		body, _ := io.ReadAll(r.Body)
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			f.bulkLines = append(f.bulkLines, line)
		}
		_, _ = io.WriteString(w, `{"errors":false,"items":[]}`)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = io.WriteString(w, `{"hits":{"hits":[{"_id":"3","_score":0.92,"_source":{"id":"3","text":"Sec. 1. Short title.","dataset":"us-congress"}}]}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestElasticsearchUpsertAndQuery(t *testing.T) {
	fake := &fakeES{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	idx, err := NewElasticsearch(config.VectorIndexConfig{
		APIKey:     "key",
		Addresses:  []string{srv.URL},
		IndexName:  "agenticrag",
		Dimensions: 3,
		BatchSize:  1,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !fake.created {
		t.Fatalf("expected index to be created")
	}

	ctx := context.Background()
	if err := idx.Upsert(ctx, []model.DocumentChunk{chunk("0", "a", 1, 0, 0), chunk("1", "b", 0, 1, 0)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(fake.bulkLines) != 4 {
		t.Fatalf("expected 2 action/doc pairs, got %d lines", len(fake.bulkLines))
	}
	var action map[string]map[string]string
	if err := json.Unmarshal([]byte(fake.bulkLines[2]), &action); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	if action["index"]["_id"] != "1" {
		t.Fatalf("unexpected bulk action %v", action)
	}

	results, err := idx.Query(ctx, []float32{1, 0, 0}, 4)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].ID != "3" || results[0].Metadata[model.MetadataText] != "Sec. 1. Short title." {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestElasticsearchQueryHonoursTimeout(t *testing.T) {
	fake := &fakeES{searchDelay: 2 * time.Second}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	idx, err := NewElasticsearch(config.VectorIndexConfig{
		APIKey:     "key",
		Addresses:  []string{srv.URL},
		IndexName:  "agenticrag",
		Dimensions: 3,
		Timeout:    50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	start := time.Now()
	if _, err := idx.Query(context.Background(), []float32{1, 0, 0}, 4); err == nil {
		t.Fatalf("expected the slow search to time out")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("query waited %s, timeout was not applied", elapsed)
	}
}
