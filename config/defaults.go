// =============================================================================
// 📦 ReportFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/reportflow/internal/retry"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Qdrant:    DefaultQdrantConfig(),
		Retrieval: DefaultRetrievalConfig(),
		LLM:       DefaultLLMConfig(),
		Router:    DefaultRouterConfig(),
		Report:    DefaultReportConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultWorkflowConfig 返回默认编排器配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxEditIterations:  5,
		StageTimeout:       2 * time.Minute,
		Retry:              retry.DefaultPolicy(),
		EventQueueSize:     256,
		ApprovalTTL:        72 * time.Hour,
		SweepInterval:      10 * time.Minute,
		RecoverOnStart:     true,
		RecoverConcurrency: 4,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		BaseDir:   "./data/runs",
		KeyPrefix: "reportflow:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "reportflow",
		Password:        "",
		Name:            "reportflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6333,
		Collection: "reportflow_evidence",
		Timeout:    30 * time.Second,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		VectorStore:   "memory",
		EmbeddingDim:  256,
		TopK:          5,
		MaxResults:    12,
		MinScore:      0.05,
		Concurrency:   4,
		SnippetLength: 600,
		ChunkSize:     512,
		ChunkOverlap:  64,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:      "openai",
		Model:         "gpt-4o-mini",
		Timeout:       2 * time.Minute,
		MaxTokens:     2048,
		Temperature:   0.3,
		ContextBudget: 6000,
		SystemPrompt:  "You are a careful analyst. Ground every claim in the provided context and cite sources.",
	}
}

// DefaultRouterConfig 返回默认路由配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MinConfidence: 0.6,
		UseLLM:        true,
		CacheEnabled:  false,
		CacheTTL:      10 * time.Minute,
	}
}

// DefaultReportConfig 返回默认 report 工作流配置
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		RequirePlanApproval: false,
		MaxQueries:          4,
		MaxEvidence:         8,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "reportflow",
		SampleRate:   0.1,
	}
}
