// =============================================================================
// 📦 flowrun 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Chat:      DefaultChatConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Knowledge: DefaultKnowledgeConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Cache:     DefaultCacheConfig(),
		Database:  DefaultDatabaseConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultChatConfig 返回默认对话模型配置
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		BaseURL:    "https://api.openai.com",
		Model:      "gpt-4o-mini",
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
	}
}

// DefaultEmbeddingConfig 返回默认向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:  "https://api.openai.com",
		Model:    "text-embedding-3-small",
		MaxBatch: 100,
		Timeout:  30 * time.Second,
	}
}

// DefaultKnowledgeConfig 返回默认知识库配置
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		TopK:         3,
		ChunkSize:    512,
		ChunkOverlap: 64,
		VectorStore:  "memory",
		Qdrant: QdrantConfig{
			BaseURL:    "http://localhost:6333",
			Collection: "flowrun_knowledge",
			AutoCreate: true,
			Timeout:    30 * time.Second,
		},
	}
}

// DefaultWorkflowConfig 返回默认执行器配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		StepBudgetFactor: 2,
		BatchConcurrency: 4,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		KeyPrefix:    "flowrun:",
		TTL:          time.Hour,
		LocalTTL:     5 * time.Minute,
		LocalMaxSize: 1000,
		PoolSize:     10,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "flowrun",
		Name:            "flowrun.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
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
		ServiceName:  "flowrun",
		SampleRate:   0.1,
	}
}
