// Package dataset loads the text records that the ingestion routine indexes.
package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"legal-rag-go/internal/config"
	"legal-rag-go/pkg/storage"
)

// Source returns the ordered text values of a dataset split.
// limit <= 0 means all records.
type Source interface {
	Load(ctx context.Context, name, split string, limit int) ([]string, error)
}

// New builds the Source selected by cfg.Source.
func New(cfg config.DatasetConfig, minioCfg config.MinIOConfig) (Source, error) {
	switch cfg.Source {
	case "huggingface":
		return NewHuggingFace(cfg), nil
	case "minio":
		client := storage.MinioClient
		if client == nil {
			var err error
			if client, err = storage.NewClient(minioCfg); err != nil {
				return nil, fmt.Errorf("failed to create minio client: %w", err)
			}
		}
		return NewMinIO(client, minioCfg.BucketName, cfg.Prefix, cfg.TextField), nil
	case "file":
		return NewFile(cfg.Path, cfg.TextField), nil
	default:
		return nil, fmt.Errorf("unsupported dataset source: %s", cfg.Source)
	}
}

// stringify renders a record value as text: strings verbatim, null rows as "None",
// booleans as "True"/"False", anything else as JSON.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// readJSONL 逐行解析 JSON Lines，取出 field 字段。
func readJSONL(r io.Reader, field string, limit int) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	var out []string
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("line %d: invalid json: %w", line, err)
		}
		v, ok := rec[field]
		if !ok {
			return nil, fmt.Errorf("line %d: missing field %q", line, field)
		}
		out = append(out, stringify(v))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return out, nil
}
