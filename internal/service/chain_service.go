// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"legal-rag-go/internal/apperror"
	"legal-rag-go/internal/config"
	"legal-rag-go/internal/model"
	"legal-rag-go/internal/repository"
	"legal-rag-go/pkg/embedding"
	"legal-rag-go/pkg/llm"
	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/vectorindex"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultCondensePrompt = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
{chat_history}
Follow Up Input: {question}
Standalone question:`

// 单条参考资料写入提示词时的最大长度（按字符）。
const maxSnippetRunes = 4000

// ChainResult 是一次问答的结果。
type ChainResult struct {
	Answer    string                 `json:"response"`
	Sources   []model.SourceDocument `json:"sources,omitempty"`
	SessionID string                 `json:"session_id"`
}

// ChainService 定义了对话式检索问答的接口。
type ChainService interface {
	Ask(ctx context.Context, sessionID, question string) (*ChainResult, error)
	// AskStream 与 Ask 流程相同，生成的分块会依次交给 onChunk。
	AskStream(ctx context.Context, sessionID, question string, onChunk func([]byte) error) (*ChainResult, error)
}

type chainService struct {
	embedder         embedding.Client
	index            vectorindex.Index
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	prompt           config.LLMPromptConfig
	topK             int
	locks            *sessionLocks
}

// NewChainService 创建一个新的 ChainService 实例。
func NewChainService(
	embedder embedding.Client,
	index vectorindex.Index,
	llmClient llm.Client,
	conversationRepo repository.ConversationRepository,
	prompt config.LLMPromptConfig,
	retrieval config.RetrievalConfig,
) ChainService {
	topK := retrieval.TopK
	if topK <= 0 {
		topK = 4
	}
	return &chainService{
		embedder:         embedder,
		index:            index,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		prompt:           prompt,
		topK:             topK,
		locks:            newSessionLocks(),
	}
}

func (s *chainService) Ask(ctx context.Context, sessionID, question string) (*ChainResult, error) {
	return s.run(ctx, sessionID, question, nil)
}

func (s *chainService) AskStream(ctx context.Context, sessionID, question string, onChunk func([]byte) error) (*ChainResult, error) {
	return s.run(ctx, sessionID, question, onChunk)
}

// run 在会话锁内完成：读取记忆、改写问题、检索、生成、写回记忆。
func (s *chainService) run(ctx context.Context, sessionID, question string, onChunk func([]byte) error) (*ChainResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apperror.InvalidInput("query must not be empty")
	}
	if sessionID == "" {
		return nil, apperror.InvalidInput("session id must not be empty")
	}

	ctx, span := otel.Tracer("legal-rag/chain").Start(ctx, "chain.ask")
	defer span.End()
	span.SetAttributes(attribute.String("chain.session_id", sessionID))

	unlock := s.locks.lock(sessionID)
	defer unlock()

	start := time.Now()
	log.Infof("[ChainService] 开始处理问题, session: %s, query_len: %d", sessionID, len(question))

	// 1. 读取会话记忆
	turns, err := s.conversationRepo.GetTurns(ctx, sessionID)
	if err != nil {
		log.Errorf("[ChainService] 读取会话记忆失败: %v", err)
		return nil, s.fail(span, apperror.Internal("failed to load conversation memory", err))
	}

	// 2. 有历史时把追问改写为独立问题
	standalone := question
	if len(turns) > 0 {
		standalone, err = s.condense(ctx, turns, question)
		if err != nil {
			return nil, s.fail(span, err)
		}
	}

	// 3. 向量化并检索
	sources, err := s.retrieve(ctx, standalone)
	if err != nil {
		return nil, s.fail(span, err)
	}

	// 4. 组装消息并调用模型
	messages := s.composeMessages(s.buildSystemMessage(sources), model.Messages(turns), question)
	answer, streamed, err := s.generate(ctx, messages, onChunk)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if onChunk != nil && !streamed && answer != "" {
		// 模型不支持流式时整体下发一次
		if err := onChunk([]byte(answer)); err != nil {
			return nil, s.fail(span, apperror.Internal("failed to deliver answer", err))
		}
	}

	// 5. 写回会话记忆，即使请求已取消也保存成功生成的答案
	turn := model.Turn{Question: question, Answer: answer, CreatedAt: time.Now()}
	if err := s.conversationRepo.AppendTurn(context.WithoutCancel(ctx), sessionID, turn); err != nil {
		log.Errorf("[ChainService] 保存会话记忆失败: %v", err)
		return nil, s.fail(span, apperror.Internal("failed to save conversation memory", err))
	}

	log.Infof("[ChainService] 问题处理完成, session: %s, sources: %d, 耗时: %s", sessionID, len(sources), time.Since(start))
	return &ChainResult{Answer: answer, Sources: sources, SessionID: sessionID}, nil
}

func (s *chainService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(apperror.KindOf(err)))
	return err
}

func (s *chainService) condense(ctx context.Context, turns []model.Turn, question string) (string, error) {
	ctx, span := otel.Tracer("legal-rag/chain").Start(ctx, "chain.condense")
	defer span.End()

	tmpl := s.prompt.Condense
	if tmpl == "" {
		tmpl = defaultCondensePrompt
	}
	var history strings.Builder
	for _, t := range turns {
		history.WriteString("Human: ")
		history.WriteString(t.Question)
		history.WriteString("\nAssistant: ")
		history.WriteString(t.Answer)
		history.WriteString("\n")
	}
	prompt := strings.NewReplacer("{chat_history}", strings.TrimRight(history.String(), "\n"), "{question}", question).Replace(tmpl)

	standalone, err := s.llmClient.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		log.Errorf("[ChainService] 改写问题失败: %v", err)
		return "", apperror.Upstream("failed to condense question", err)
	}
	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		return question, nil
	}
	log.Debugf("[ChainService] 改写后的问题: %s", standalone)
	return standalone, nil
}

func (s *chainService) retrieve(ctx context.Context, query string) ([]model.SourceDocument, error) {
	ctx, span := otel.Tracer("legal-rag/chain").Start(ctx, "chain.retrieve")
	defer span.End()

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		log.Errorf("[ChainService] 向量化查询失败: %v", err)
		return nil, apperror.Upstream("failed to embed question", err)
	}
	sources, err := s.index.Query(ctx, vector, s.topK)
	if err != nil {
		log.Errorf("[ChainService] 检索失败: %v", err)
		return nil, apperror.Upstream("failed to query vector index", err)
	}
	span.SetAttributes(attribute.Int("chain.sources", len(sources)))
	return sources, nil
}

func (s *chainService) generate(ctx context.Context, messages []model.ChatMessage, onChunk func([]byte) error) (string, bool, error) {
	ctx, span := otel.Tracer("legal-rag/chain").Start(ctx, "chain.generate")
	defer span.End()

	llmMsgs := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
	}

	var (
		answer   string
		err      error
		streamed bool
	)
	if onChunk != nil {
		answer, err = s.llmClient.StreamChat(ctx, llmMsgs, nil, func(chunk []byte) error {
			streamed = true
			return onChunk(chunk)
		})
	} else {
		answer, err = s.llmClient.Chat(ctx, llmMsgs, nil)
	}
	if err != nil {
		log.Errorf("[ChainService] 调用模型失败: %v", err)
		return "", streamed, apperror.Upstream("failed to generate answer", err)
	}
	return answer, streamed, nil
}

// buildContextText 把检索结果编号拼接为参考资料。
func buildContextText(sources []model.SourceDocument) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	for i, src := range sources {
		snippet := src.Text
		if r := []rune(snippet); len(r) > maxSnippetRunes {
			snippet = string(r[:maxSnippetRunes]) + "…"
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, snippet)
	}
	return b.String()
}

func (s *chainService) buildSystemMessage(sources []model.SourceDocument) string {
	refStart := s.prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if s.prompt.Rules != "" {
		sys.WriteString(s.prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText := buildContextText(sources); contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := s.prompt.NoResultText
		if noRes == "" {
			noRes = "(no reference material was retrieved for this question)"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chainService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: "system", Content: systemMsg})
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: "user", Content: userInput})
	return msgs
}
