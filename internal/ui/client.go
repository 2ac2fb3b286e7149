// Package ui 提供基于服务端渲染的聊天页面，通过 HTTP 调用问答接口。
package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"legal-rag-go/pkg/log"
)

const noResponseText = "Error: No response received."

// QueryClient 调用问答接口，永远返回一段可以展示的文本。
type QueryClient struct {
	apiURL     string
	httpClient *http.Client
}

// NewQueryClient 创建一个新的 QueryClient。
func NewQueryClient(apiURL string, timeout time.Duration) *QueryClient {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &QueryClient{apiURL: apiURL, httpClient: &http.Client{Timeout: timeout}}
}

type queryPayload struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type queryReply struct {
	Response *string `json:"response"`
	Detail   *string `json:"detail"`
}

// Ask 提交问题并把结果转换为展示文本，失败时返回 "Error: ..." 形式的文本。
func (c *QueryClient) Ask(ctx context.Context, sessionID, question string) string {
	body, err := json.Marshal(queryPayload{Query: question, SessionID: sessionID})
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warnf("[UI] 调用问答接口失败: %v", err)
		return fmt.Sprintf("Error: %v", err)
	}
	defer resp.Body.Close()

	var reply queryReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		log.Warnf("[UI] 解析问答接口响应失败, status: %d, err: %v", resp.StatusCode, err)
		return fmt.Sprintf("Error: %v", err)
	}
	switch {
	case reply.Response != nil:
		return *reply.Response
	case reply.Detail != nil:
		return "Error: " + *reply.Detail
	default:
		return noResponseText
	}
}
