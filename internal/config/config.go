// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"legal-rag-go/internal/apperror"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件与环境变量加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Dataset     DatasetConfig     `mapstructure:"dataset"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	UI          UIConfig          `mapstructure:"ui"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port              string   `mapstructure:"port"`
	Mode              string   `mapstructure:"mode"`
	MaxQueryLength    int      `mapstructure:"max_query_length"`
	ExposeErrorDetail bool     `mapstructure:"expose_error_detail"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置，DSN 为空时不启用导入台账。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// VectorIndexConfig 存储向量索引相关的配置。
type VectorIndexConfig struct {
	Provider    string        `mapstructure:"provider"` // elasticsearch | chromem
	APIKey      string        `mapstructure:"api_key"`
	Environment string        `mapstructure:"environment"`
	Addresses   []string      `mapstructure:"addresses"`
	IndexName   string        `mapstructure:"index_name"`
	Dimensions  int           `mapstructure:"dimensions"`
	PersistPath string        `mapstructure:"persist_path"`
	BatchSize   int           `mapstructure:"batch_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"` // openai | ollama | hash
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"` // anthropic | openai | ollama
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
	RateLimit  RateLimitConfig     `mapstructure:"rate_limit"`
	Breaker    BreakerConfig       `mapstructure:"breaker"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
	Condense     string `mapstructure:"condense"`
}

// RateLimitConfig 限制对 LLM 的请求速率，RequestsPerMinute 为 0 表示不限速。
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// BreakerConfig 配置 LLM 调用的熔断器。
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MinRequests      uint32        `mapstructure:"min_requests"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
}

// RetrievalConfig 配置检索参数。
type RetrievalConfig struct {
	TopK                  int  `mapstructure:"top_k"`
	ReturnSourceDocuments bool `mapstructure:"return_source_documents"`
}

// MemoryConfig 配置会话记忆的存储。
type MemoryConfig struct {
	Store    string        `mapstructure:"store"` // redis | memory
	MaxTurns int           `mapstructure:"max_turns"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// DatasetConfig 配置导入的数据集来源。
type DatasetConfig struct {
	Source    string        `mapstructure:"source"` // huggingface | minio | file
	Name      string        `mapstructure:"name"`
	Split     string        `mapstructure:"split"`
	Config    string        `mapstructure:"config"`
	TextField string        `mapstructure:"text_field"`
	Limit     int           `mapstructure:"limit"`
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Path      string        `mapstructure:"path"`
	Prefix    string        `mapstructure:"prefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// IngestConfig 配置导入流程的触发方式。
type IngestConfig struct {
	OnStartup bool `mapstructure:"on_startup"`
}

// JWTConfig 存储管理接口使用的 JWT 配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// UIConfig 存储聊天页面的配置。
type UIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIURL  string        `mapstructure:"api_url"`
	Footer  string        `mapstructure:"footer"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig 存储 OpenTelemetry 链路追踪的配置。
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Init 加载配置到全局变量 Conf，失败时直接 panic，进程无法启动。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Errorf("加载配置失败: %w", err))
	}
	Conf = cfg
}

// Load 依次读取 .env、YAML 配置文件与环境变量，并校验结果。
// 配置文件不存在时只使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, apperror.Configuration("读取 .env 文件失败", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, apperror.Configuration("读取配置文件失败", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, apperror.Configuration("读取配置文件失败", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, apperror.Configuration("无法将配置解析到结构体中", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 检查启动所必需的配置项。
func (c Config) Validate() error {
	switch c.VectorIndex.Provider {
	case "elasticsearch":
		if c.VectorIndex.APIKey == "" {
			return apperror.Configuration("vector index API key is missing, set VECTOR_INDEX_API_KEY", nil)
		}
		if c.VectorIndex.Environment == "" && len(c.VectorIndex.Addresses) == 0 {
			return apperror.Configuration("vector index needs either an environment (cloud id) or addresses", nil)
		}
	case "chromem":
	default:
		return apperror.Configuration(fmt.Sprintf("unknown vector index provider %q", c.VectorIndex.Provider), nil)
	}
	if c.VectorIndex.Dimensions <= 0 {
		return apperror.Configuration("vector_index.dimensions must be positive", nil)
	}

	switch c.Embedding.Provider {
	case "openai", "ollama", "hash":
	default:
		return apperror.Configuration(fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider), nil)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama":
	default:
		return apperror.Configuration(fmt.Sprintf("unknown llm provider %q", c.LLM.Provider), nil)
	}
	switch c.Memory.Store {
	case "redis", "memory":
	default:
		return apperror.Configuration(fmt.Sprintf("unknown memory store %q", c.Memory.Store), nil)
	}
	switch c.Dataset.Source {
	case "huggingface", "minio", "file":
	default:
		return apperror.Configuration(fmt.Sprintf("unknown dataset source %q", c.Dataset.Source), nil)
	}

	if c.Retrieval.TopK <= 0 {
		return apperror.Configuration("retrieval.top_k must be positive", nil)
	}
	if c.Memory.MaxTurns <= 0 {
		return apperror.Configuration("memory.max_turns must be positive", nil)
	}
	if c.Server.MaxQueryLength <= 0 {
		return apperror.Configuration("server.max_query_length must be positive", nil)
	}
	// /admin/ingest/runs 需要与导入进程共享同一份台账
	if c.JWT.Secret != "" && c.Database.MySQL.DSN == "" {
		return apperror.Configuration("database.mysql.dsn is required when jwt.secret enables the admin API, otherwise ingest runs from other processes are invisible", nil)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_query_length", 4000)
	v.SetDefault("server.expose_error_detail", false)
	v.SetDefault("server.cors_origins", []string{"http://localhost:8501"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "127.0.0.1:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("kafka.brokers", "127.0.0.1:9092")
	v.SetDefault("kafka.topic", "legal-rag-ingestion")
	v.SetDefault("kafka.group_id", "legal-rag-ingest-consumer")

	v.SetDefault("minio.endpoint", "127.0.0.1:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "legal-rag-datasets")

	v.SetDefault("vector_index.provider", "elasticsearch")
	v.SetDefault("vector_index.api_key", "")
	v.SetDefault("vector_index.environment", "")
	v.SetDefault("vector_index.addresses", []string{})
	v.SetDefault("vector_index.index_name", "agenticrag")
	v.SetDefault("vector_index.dimensions", 384)
	v.SetDefault("vector_index.persist_path", "")
	v.SetDefault("vector_index.batch_size", 500)
	v.SetDefault("vector_index.timeout", "30s")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "http://127.0.0.1:8080/v1")
	v.SetDefault("embedding.model", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.timeout", "60s")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "claude-2.1")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.generation.temperature", 0.0)
	v.SetDefault("llm.generation.top_p", 0.0)
	v.SetDefault("llm.generation.max_tokens", 1024)
	v.SetDefault("llm.prompt.rules", "You are a legal research assistant. Answer using the reference material between the markers. If the references do not contain the answer, say that you do not know.")
	v.SetDefault("llm.prompt.ref_start", "<<REF>>")
	v.SetDefault("llm.prompt.ref_end", "<<END>>")
	v.SetDefault("llm.prompt.no_result_text", "(no reference material was retrieved for this question)")
	v.SetDefault("llm.prompt.condense", "")
	v.SetDefault("llm.rate_limit.requests_per_minute", 0)
	v.SetDefault("llm.rate_limit.burst", 1)
	v.SetDefault("llm.breaker.enabled", true)
	v.SetDefault("llm.breaker.max_requests", 1)
	v.SetDefault("llm.breaker.interval", "60s")
	v.SetDefault("llm.breaker.timeout", "30s")
	v.SetDefault("llm.breaker.min_requests", 5)
	v.SetDefault("llm.breaker.failure_threshold", 0.6)

	v.SetDefault("retrieval.top_k", 4)
	v.SetDefault("retrieval.return_source_documents", true)

	v.SetDefault("memory.store", "memory")
	v.SetDefault("memory.max_turns", 20)
	v.SetDefault("memory.ttl", "168h")

	v.SetDefault("dataset.source", "huggingface")
	v.SetDefault("dataset.name", "c4lliope/us-congress")
	v.SetDefault("dataset.split", "train")
	v.SetDefault("dataset.config", "default")
	v.SetDefault("dataset.text_field", "text")
	v.SetDefault("dataset.limit", 0)
	v.SetDefault("dataset.base_url", "https://datasets-server.huggingface.co")
	v.SetDefault("dataset.token", "")
	v.SetDefault("dataset.path", "")
	v.SetDefault("dataset.prefix", "datasets")
	v.SetDefault("dataset.timeout", "60s")

	v.SetDefault("ingest.on_startup", false)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.token_expire_hours", 24)

	v.SetDefault("ui.enabled", true)
	v.SetDefault("ui.api_url", "http://127.0.0.1:8000/query/")
	v.SetDefault("ui.footer", "Powered by Anthropic Claude, Elasticsearch, and LangChainGo.")
	v.SetDefault("ui.timeout", "180s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "legal-rag-go")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}
