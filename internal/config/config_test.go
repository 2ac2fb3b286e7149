package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"legal-rag-go/internal/apperror"
)

func TestLoadFailsWithoutVectorIndexKey(t *testing.T) {
	t.Setenv("VECTOR_INDEX_API_KEY", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected an error when the vector index key is missing")
	}
	if kind := apperror.KindOf(err); kind != apperror.KindConfiguration {
		t.Fatalf("expected configuration error, got %s", kind)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("VECTOR_INDEX_API_KEY", "secret")
	t.Setenv("VECTOR_INDEX_ENVIRONMENT", "legal:dXMtZWFzdC0x")
	t.Setenv("SERVER_PORT", "9001")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VectorIndex.APIKey != "secret" || cfg.VectorIndex.Environment != "legal:dXMtZWFzdC0x" {
		t.Fatalf("environment overrides not applied: %+v", cfg.VectorIndex)
	}
	if cfg.Server.Port != "9001" {
		t.Fatalf("expected port 9001, got %s", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Fatalf("expected default top_k 4, got %d", cfg.Retrieval.TopK)
	}
	if cfg.VectorIndex.IndexName != "agenticrag" {
		t.Fatalf("unexpected index name %q", cfg.VectorIndex.IndexName)
	}
	if cfg.Memory.TTL != 168*time.Hour {
		t.Fatalf("unexpected memory ttl %s", cfg.Memory.TTL)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
vector_index:
  provider: chromem
  dimensions: 64
retrieval:
  top_k: 6
memory:
  store: memory
  ttl: 1h
llm:
  provider: ollama
  model: llama3
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VectorIndex.Provider != "chromem" || cfg.VectorIndex.Dimensions != 64 {
		t.Fatalf("unexpected vector index config: %+v", cfg.VectorIndex)
	}
	if cfg.Retrieval.TopK != 6 || cfg.Memory.TTL != time.Hour {
		t.Fatalf("file values not applied: %+v %+v", cfg.Retrieval, cfg.Memory)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "llama3" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			Server:      ServerConfig{MaxQueryLength: 100},
			VectorIndex: VectorIndexConfig{Provider: "chromem", Dimensions: 8},
			Embedding:   EmbeddingConfig{Provider: "hash"},
			LLM:         LLMConfig{Provider: "anthropic"},
			Retrieval:   RetrievalConfig{TopK: 4},
			Memory:      MemoryConfig{Store: "memory", MaxTurns: 10},
			Dataset:     DatasetConfig{Source: "file"},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	cases := map[string]func(*Config){
		"top_k":        func(c *Config) { c.Retrieval.TopK = 0 },
		"llm provider": func(c *Config) { c.LLM.Provider = "gpt" },
		"dataset":      func(c *Config) { c.Dataset.Source = "s3" },
		"es key":       func(c *Config) { c.VectorIndex.Provider = "elasticsearch" },
		"admin ledger": func(c *Config) { c.JWT.Secret = "s3cret" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadRequiresLedgerDatabaseForAdmin(t *testing.T) {
	t.Setenv("VECTOR_INDEX_PROVIDER", "chromem")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_MYSQL_DSN", "")

	_, err := Load("")
	if err == nil {
		t.Fatalf("expected an error when admin is enabled without a ledger database")
	}
	if kind := apperror.KindOf(err); kind != apperror.KindConfiguration {
		t.Fatalf("expected configuration error, got %s", kind)
	}

	t.Setenv("DATABASE_MYSQL_DSN", "rag:rag@tcp(127.0.0.1:3306)/legal_rag?parseTime=true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with dsn: %v", err)
	}
	if cfg.JWT.Secret != "s3cret" {
		t.Fatalf("jwt secret not applied: %+v", cfg.JWT)
	}
}
