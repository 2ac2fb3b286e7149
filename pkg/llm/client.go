// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"legal-rag-go/internal/config"
	"legal-rag-go/pkg/log"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// ErrUnavailable 表示熔断器处于打开状态，请求未发往模型服务。
var ErrUnavailable = errors.New("language model temporarily unavailable")

// Client defines the interface for an LLM client.
type Client interface {
	// Chat 以 role-based 消息调用模型并返回完整回答。
	Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// StreamChat 与 Chat 相同，但会把生成的分块依次交给 onChunk。
	StreamChat(ctx context.Context, messages []Message, gen *GenerationParams, onChunk func([]byte) error) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段使用配置中的默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type client struct {
	model   llms.Model
	cfg     config.LLMConfig
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) (Client, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithModel(model, cfg), nil
}

// NewClientWithModel wraps an existing langchaingo model with rate limiting and a circuit breaker.
func NewClientWithModel(model llms.Model, cfg config.LLMConfig) Client {
	c := &client{model: model, cfg: cfg}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimit.RequestsPerMinute)/60.0), burst)
	}
	if cfg.Breaker.Enabled {
		b := cfg.Breaker
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "LLM-" + cfg.Provider,
			MaxRequests: b.MaxRequests,
			Interval:    b.Interval,
			Timeout:     b.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < b.MinRequests || counts.Requests == 0 {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= b.FailureThreshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warnf("[LLMClient] 熔断器 %s 状态变化: %s -> %s", name, from, to)
			},
		})
	}
	return c
}

func newModel(cfg config.LLMConfig) (llms.Model, error) {
	httpClient := &http.Client{}
	switch cfg.Provider {
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
			anthropic.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		m, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		return m, nil
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return m, nil
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

func (c *client) Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	return c.generate(ctx, messages, gen, nil)
}

func (c *client) StreamChat(ctx context.Context, messages []Message, gen *GenerationParams, onChunk func([]byte) error) (string, error) {
	return c.generate(ctx, messages, gen, onChunk)
}

func (c *client) generate(ctx context.Context, messages []Message, gen *GenerationParams, onChunk func([]byte) error) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm rate limiter: %w", err)
		}
	}

	content := toMessageContent(messages)
	opts := c.callOptions(gen)
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onChunk(chunk)
		}))
	}

	call := func() (interface{}, error) {
		start := time.Now()
		resp, err := c.model.GenerateContent(ctx, content, opts...)
		if err != nil {
			log.Errorf("[LLMClient] 调用模型失败, provider: %s, error: %v", c.cfg.Provider, err)
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty response from model")
		}
		log.Infof("[LLMClient] 模型调用成功, provider: %s, model: %s, 耗时: %s", c.cfg.Provider, c.cfg.Model, time.Since(start))
		return resp.Choices[0].Content, nil
	}

	var (
		out interface{}
		err error
	)
	if c.breaker != nil {
		out, err = c.breaker.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	} else {
		out, err = call()
	}
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	return out.(string), nil
}

// callOptions 从配置注入生成参数，传参优先生效。
func (c *client) callOptions(gen *GenerationParams) []llms.CallOption {
	temperature := c.cfg.Generation.Temperature
	topP := c.cfg.Generation.TopP
	maxTokens := c.cfg.Generation.MaxTokens
	if gen != nil {
		if gen.Temperature != nil {
			temperature = *gen.Temperature
		}
		if gen.TopP != nil {
			topP = *gen.TopP
		}
		if gen.MaxTokens != nil {
			maxTokens = *gen.MaxTokens
		}
	}

	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if topP != 0 {
		opts = append(opts, llms.WithTopP(topP))
	}
	if maxTokens != 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	return opts
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "assistant":
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
