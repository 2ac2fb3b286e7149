package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"legal-rag-go/internal/config"
	"legal-rag-go/pkg/log"
)

// pageSize is the maximum page length the datasets-server accepts.
const pageSize = 100

type huggingFaceSource struct {
	baseURL   string
	config    string
	textField string
	token     string
	client    *http.Client
}

// NewHuggingFace reads rows through the Hugging Face datasets-server API.
func NewHuggingFace(cfg config.DatasetConfig) Source {
	subset := cfg.Config
	if subset == "" {
		subset = "default"
	}
	return &huggingFaceSource{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		config:    subset,
		textField: cfg.TextField,
		token:     cfg.Token,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

type rowsResponse struct {
	Rows []struct {
		RowIdx int                    `json:"row_idx"`
		Row    map[string]interface{} `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

func (s *huggingFaceSource) Load(ctx context.Context, name, split string, limit int) ([]string, error) {
	log.Infof("[Dataset] 开始从 Hugging Face 加载数据集, dataset: %s, split: %s", name, split)
	var out []string
	for offset := 0; ; offset += pageSize {
		length := pageSize
		if limit > 0 && limit-len(out) < length {
			length = limit - len(out)
		}
		page, err := s.fetch(ctx, name, split, offset, length)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Rows {
			v, ok := r.Row[s.textField]
			if !ok {
				return nil, fmt.Errorf("row %d: missing field %q", r.RowIdx, s.textField)
			}
			out = append(out, stringify(v))
		}
		if len(page.Rows) == 0 || offset+len(page.Rows) >= page.NumRowsTotal || (limit > 0 && len(out) >= limit) {
			break
		}
	}
	log.Infof("[Dataset] 数据集加载完成, 共 %d 条记录", len(out))
	return out, nil
}

func (s *huggingFaceSource) fetch(ctx context.Context, name, split string, offset, length int) (*rowsResponse, error) {
	q := url.Values{}
	q.Set("dataset", name)
	q.Set("config", s.config)
	q.Set("split", split)
	q.Set("offset", fmt.Sprint(offset))
	q.Set("length", fmt.Sprint(length))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/rows?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Errorf("[Dataset] 调用 datasets-server 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call datasets-server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("datasets-server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var page rowsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode rows response: %w", err)
	}
	return &page, nil
}
