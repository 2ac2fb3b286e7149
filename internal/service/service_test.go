package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"legal-rag-go/internal/apperror"
	"legal-rag-go/internal/config"
	"legal-rag-go/internal/model"
	"legal-rag-go/internal/repository"
	"legal-rag-go/pkg/dataset"
	"legal-rag-go/pkg/embedding"
	"legal-rag-go/pkg/llm"
	"legal-rag-go/pkg/vectorindex"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
)

// recordingModel 记录每次调用收到的消息，并按 answer 函数作答。
type recordingModel struct {
	mu     sync.Mutex
	calls  [][]llms.MessageContent
	answer func(msgs []llms.MessageContent) (string, error)
}

func (m *recordingModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	m.mu.Unlock()
	text, err := m.answer(msgs)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (m *recordingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *recordingModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func textOf(mc llms.MessageContent) string {
	var b strings.Builder
	for _, p := range mc.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

var corpus = []string{
	"Sec. 2. The Secretary of Agriculture shall establish a grant program for rural broadband.",
	"Sec. 3. Amendments to the Internal Revenue Code regarding tax credits for electric vehicles.",
	"Sec. 4. The Attorney General shall report on federal court backlog and judicial vacancies.",
}

type fixture struct {
	index  vectorindex.Index
	embed  embedding.Client
	memory repository.ConversationRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := vectorindex.NewChromem(config.VectorIndexConfig{IndexName: t.Name()})
	if err != nil {
		t.Fatalf("chromem: %v", err)
	}
	embed := embedding.NewHashClient(embedding.HashDimensions)
	vectors, err := embed.EmbedDocuments(context.Background(), corpus)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var chunks []model.DocumentChunk
	for i, text := range corpus {
		chunks = append(chunks, model.DocumentChunk{
			ID: fmt.Sprint(i), Text: text, Embedding: vectors[i],
			Metadata: map[string]string{model.MetadataText: text},
		})
	}
	if err := idx.Upsert(context.Background(), chunks); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return &fixture{index: idx, embed: embed, memory: repository.NewMemoryConversationRepository(20, time.Hour)}
}

func (f *fixture) chain(m llms.Model, topK int) ChainService {
	client := llm.NewClientWithModel(m, config.LLMConfig{Provider: "test"})
	return NewChainService(f.embed, f.index, client, f.memory,
		config.LLMPromptConfig{Rules: "Answer from the references."},
		config.RetrievalConfig{TopK: topK})
}

func TestAskReturnsAnswerAndSources(t *testing.T) {
	f := newFixture(t)
	chain := f.chain(fake.NewFakeLLM([]string{"Rural broadband grants are covered by Sec. 2."}), 2)

	res, err := chain.Ask(context.Background(), "s1", "Which section covers rural broadband grants?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.Answer != "Rural broadband grants are covered by Sec. 2." {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("expected top 2 sources, got %d", len(res.Sources))
	}
	if res.Sources[0].ID != "0" {
		t.Fatalf("expected broadband record first, got %+v", res.Sources[0])
	}

	turns, _ := f.memory.GetTurns(context.Background(), "s1")
	if len(turns) != 1 || turns[0].Answer != res.Answer {
		t.Fatalf("turn not recorded: %+v", turns)
	}
}

func TestFollowUpUsesHistory(t *testing.T) {
	f := newFixture(t)
	m := &recordingModel{answer: func(msgs []llms.MessageContent) (string, error) {
		if strings.Contains(textOf(msgs[0]), "Standalone question:") {
			return "What tax credits exist for electric vehicles?", nil
		}
		return "Sec. 3 provides them.", nil
	}}
	chain := f.chain(m, 1)
	ctx := context.Background()

	if _, err := chain.Ask(ctx, "s1", "Tell me about electric vehicles."); err != nil {
		t.Fatalf("first ask: %v", err)
	}
	if m.callCount() != 1 {
		t.Fatalf("first question should not be condensed, calls=%d", m.callCount())
	}

	res, err := chain.Ask(ctx, "s1", "What credits does it give?")
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if m.callCount() != 3 {
		t.Fatalf("expected condense + answer calls, got %d", m.callCount())
	}
	condense := textOf(m.calls[1][0])
	if !strings.Contains(condense, "Human: Tell me about electric vehicles.") {
		t.Fatalf("condense prompt missing history: %q", condense)
	}
	if res.Sources[0].ID != "1" {
		t.Fatalf("standalone question should retrieve the tax record, got %+v", res.Sources)
	}

	final := m.calls[2]
	if len(final) != 4 {
		t.Fatalf("expected system + 2 history + question, got %d messages", len(final))
	}
	if final[0].Role != llms.ChatMessageTypeSystem || !strings.Contains(textOf(final[0]), "<<REF>>") {
		t.Fatalf("system prompt missing references: %q", textOf(final[0]))
	}
	if textOf(final[1]) != "Tell me about electric vehicles." || final[2].Role != llms.ChatMessageTypeAI {
		t.Fatalf("history not passed in order")
	}
	if textOf(final[3]) != "What credits does it give?" {
		t.Fatalf("unexpected final message %q", textOf(final[3]))
	}
}

func TestSessionsDoNotShareMemory(t *testing.T) {
	f := newFixture(t)
	m := &recordingModel{answer: func([]llms.MessageContent) (string, error) { return "ok", nil }}
	chain := f.chain(m, 1)
	ctx := context.Background()

	_, _ = chain.Ask(ctx, "alice", "alice's private question")
	_, _ = chain.Ask(ctx, "bob", "bob's question")

	for _, msg := range m.calls[1] {
		if strings.Contains(textOf(msg), "alice") {
			t.Fatalf("bob's prompt contains alice's history")
		}
	}
}

func TestUpstreamFailureIsClassifiedAndNotRemembered(t *testing.T) {
	f := newFixture(t)
	m := &recordingModel{answer: func([]llms.MessageContent) (string, error) {
		return "", errors.New("529 overloaded")
	}}
	chain := f.chain(m, 1)

	_, err := chain.Ask(context.Background(), "s1", "anything")
	if apperror.KindOf(err) != apperror.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	turns, _ := f.memory.GetTurns(context.Background(), "s1")
	if len(turns) != 0 {
		t.Fatalf("failed turn should not be recorded")
	}
}

func TestEmptyQuestionIsInvalid(t *testing.T) {
	f := newFixture(t)
	chain := f.chain(fake.NewFakeLLM([]string{"x"}), 1)
	_, err := chain.Ask(context.Background(), "s1", "   ")
	if apperror.KindOf(err) != apperror.KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSessionsRunConcurrently(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	m := &recordingModel{answer: func(msgs []llms.MessageContent) (string, error) {
		if strings.Contains(textOf(msgs[len(msgs)-1]), "slow") {
			<-release
		}
		return "done", nil
	}}
	chain := f.chain(m, 1)

	slowDone := make(chan error, 1)
	go func() {
		_, err := chain.Ask(context.Background(), "slow-session", "slow question")
		slowDone <- err
	}()

	fastDone := make(chan error, 1)
	go func() {
		// 等慢请求先进入模型调用
		for m.callCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		_, err := chain.Ask(context.Background(), "fast-session", "fast question")
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("fast ask: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("a slow session blocked another session")
	}
	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow ask: %v", err)
	}
}

func TestSessionLocksSerializeAndRelease(t *testing.T) {
	locks := newSessionLocks()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("same")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("same session ran %d at once", maxSeen)
	}
	if locks.size() != 0 {
		t.Fatalf("locks not released, %d left", locks.size())
	}
}

func TestAskStreamDeliversAnswer(t *testing.T) {
	f := newFixture(t)
	chain := f.chain(fake.NewFakeLLM([]string{"streamed answer"}), 1)

	var chunks []string
	res, err := chain.AskStream(context.Background(), "s1", "question", func(b []byte) error {
		chunks = append(chunks, string(b))
		return nil
	})
	if err != nil {
		t.Fatalf("ask stream: %v", err)
	}
	if strings.Join(chunks, "") != res.Answer {
		t.Fatalf("chunks %q do not add up to answer %q", chunks, res.Answer)
	}
}

func TestSystemMessageWithoutSources(t *testing.T) {
	s := &chainService{prompt: config.LLMPromptConfig{NoResultText: "nothing found"}}
	msg := s.buildSystemMessage(nil)
	if !strings.Contains(msg, "<<REF>>\nnothing found\n<<END>>") {
		t.Fatalf("unexpected system message %q", msg)
	}
}

func writeDataset(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.jsonl")
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "{\"text\":%q}\n", l)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

func TestIngestIndexesEveryRecordByPosition(t *testing.T) {
	path := writeDataset(t, "first bill", "second  bill\twith tabs", "third bill")
	idx, _ := vectorindex.NewChromem(config.VectorIndexConfig{IndexName: t.Name()})
	runs := repository.NewMemoryIngestionRunRepository()
	svc := NewIngestService(dataset.NewFile(path, "text"), embedding.NewHashClient(64), idx, runs,
		config.DatasetConfig{Source: "file", Name: "local", Split: "train"})
	ctx := context.Background()

	report, err := svc.Ingest(ctx, IngestRequest{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Records != 3 || report.Dataset != "local" {
		t.Fatalf("unexpected report %+v", report)
	}

	// 再导入一次，条目数不变
	if _, err := svc.Ingest(ctx, IngestRequest{}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if n, _ := idx.Count(ctx); n != 3 {
		t.Fatalf("re-ingesting should overwrite, have %d entries", n)
	}

	vec, _ := embedding.NewHashClient(64).EmbedQuery(ctx, "second  bill\twith tabs")
	results, _ := idx.Query(ctx, vec, 1)
	if results[0].ID != "1" || results[0].Metadata[model.MetadataText] != "second  bill\twith tabs" {
		t.Fatalf("metadata text not verbatim: %+v", results[0])
	}

	list, _ := svc.ListRuns(10)
	if len(list) != 2 || list[0].Status != model.IngestionSucceeded {
		t.Fatalf("unexpected ledger %+v", list)
	}
}

func TestIngestEmptyDatasetFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	_ = os.WriteFile(path, nil, 0o644)
	idx, _ := vectorindex.NewChromem(config.VectorIndexConfig{IndexName: t.Name()})
	runs := repository.NewMemoryIngestionRunRepository()
	svc := NewIngestService(dataset.NewFile(path, "text"), embedding.NewHashClient(16), idx, runs,
		config.DatasetConfig{Source: "file", Name: "empty"})

	_, err := svc.Ingest(context.Background(), IngestRequest{})
	if apperror.KindOf(err) != apperror.KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	list, _ := runs.ListRecent(1)
	if len(list) != 1 || list[0].Status != model.IngestionFailed || list[0].Error == "" {
		t.Fatalf("failure not recorded: %+v", list)
	}
}

// recordingIndex 记录每次 Upsert 收到的条目。
type recordingIndex struct {
	upserts [][]model.DocumentChunk
}

func (r *recordingIndex) Upsert(_ context.Context, chunks []model.DocumentChunk) error {
	r.upserts = append(r.upserts, append([]model.DocumentChunk(nil), chunks...))
	return nil
}

func (r *recordingIndex) Query(context.Context, []float32, int) ([]model.SourceDocument, error) {
	return nil, nil
}

func (r *recordingIndex) Count(context.Context) (int, error) {
	if len(r.upserts) == 0 {
		return 0, nil
	}
	return len(r.upserts[len(r.upserts)-1]), nil
}

func TestIngestUpsertsEveryRecordOnceWithPositionalIDs(t *testing.T) {
	records := []string{
		"An Act to amend title 38",
		"  leading and trailing spaces  ",
		"line one\nline two",
		"",
		"Sec. 2. Definitions.\tIn this Act:",
	}
	path := writeDataset(t, records...)
	idx := &recordingIndex{}
	svc := NewIngestService(dataset.NewFile(path, "text"), embedding.NewHashClient(32), idx,
		repository.NewMemoryIngestionRunRepository(),
		config.DatasetConfig{Source: "file", Name: "local", Split: "train"})

	if _, err := svc.Ingest(context.Background(), IngestRequest{}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(idx.upserts) != 1 {
		t.Fatalf("expected exactly one upsert call, got %d", len(idx.upserts))
	}
	chunks := idx.upserts[0]
	if len(chunks) != len(records) {
		t.Fatalf("expected %d entries, got %d", len(records), len(chunks))
	}
	for i, c := range chunks {
		if c.ID != fmt.Sprint(i) {
			t.Fatalf("entry %d has id %q", i, c.ID)
		}
		if c.Metadata[model.MetadataText] != records[i] {
			t.Fatalf("entry %d text %q, want %q", i, c.Metadata[model.MetadataText], records[i])
		}
		if len(c.Embedding) != 32 {
			t.Fatalf("entry %d has %d dims", i, len(c.Embedding))
		}
	}
}
