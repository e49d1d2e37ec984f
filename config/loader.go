// =============================================================================
// 📦 flowrun 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + .env + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithDotEnv(".env").
//	    WithEnvPrefix("FLOWRUN").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → .env 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 flowrun 的完整配置结构
type Config struct {
	// Chat 对话模型配置
	Chat ChatConfig `yaml:"chat" env:"CHAT"`

	// Embedding 向量化模型配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Knowledge 知识库检索配置
	Knowledge KnowledgeConfig `yaml:"knowledge" env:"KNOWLEDGE"`

	// Workflow 执行器配置
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Cache Redis 提示词缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Database 模板存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Debug 为 true 时日志级别强制为 debug
	Debug bool `yaml:"debug" env:"DEBUG"`
}

// ChatConfig 对话模型配置（OpenAI 兼容接口）
type ChatConfig struct {
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	Model        string        `yaml:"model" env:"MODEL"`
	SystemPrompt string        `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	Temperature  *float64      `yaml:"temperature" env:"TEMPERATURE"`
	TopP         *float64      `yaml:"top_p" env:"TOP_P"`
	MaxTokens    int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数（不含首次调用）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 本地限流，<= 0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	Burst        int     `yaml:"burst" env:"BURST"`
}

// EmbeddingConfig 向量化模型配置
type EmbeddingConfig struct {
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	MaxBatch   int           `yaml:"max_batch" env:"MAX_BATCH"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// KnowledgeConfig 知识库配置
type KnowledgeConfig struct {
	// 启动时索引的文档目录，为空表示知识库为空
	DocumentsDir string  `yaml:"documents_dir" env:"DOCUMENTS_DIR"`
	TopK         int     `yaml:"top_k" env:"TOP_K"`
	MinScore     float64 `yaml:"min_score" env:"MIN_SCORE"`
	ChunkSize    int     `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap int     `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 向量存储: memory, qdrant
	VectorStore string       `yaml:"vector_store" env:"VECTOR_STORE"`
	Qdrant      QdrantConfig `yaml:"qdrant" env:"QDRANT"`
}

// QdrantConfig Qdrant 向量存储配置
type QdrantConfig struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	AutoCreate bool          `yaml:"auto_create" env:"AUTO_CREATE"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WorkflowConfig 执行器配置
type WorkflowConfig struct {
	// 步数预算 = StepBudgetFactor × 节点数
	StepBudgetFactor int `yaml:"step_budget_factor" env:"STEP_BUDGET_FACTOR"`
	// RunBatch 默认并发数
	BatchConcurrency int `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
}

// CacheConfig 提示词缓存配置
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL          time.Duration `yaml:"ttl" env:"TTL"`
	LocalTTL     time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	LocalMaxSize int           `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// postgres 为库名，sqlite 为文件路径（":memory:" 表示内存库）
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动服务时自动执行未应用的迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// legacyEnv 不带前缀的旧环境变量键，仅在带前缀的键缺失时生效
var legacyEnv = []string{
	"CHAT_API_KEY", "CHAT_BASE_URL", "CHAT_MODEL",
	"EMBEDDING_API_KEY", "EMBEDDING_BASE_URL", "EMBEDDING_MODEL",
	"DEBUG",
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	dotEnvPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "FLOWRUN",
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithDotEnv 设置 .env 文件路径；文件不存在时忽略
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// .env 中的值不覆盖真实环境变量
	dotEnv, err := l.readDotEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := l.lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotEnv[key]
		return v, ok
	}

	if err := l.applyLegacyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, lookup); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if cfg.Debug {
		cfg.Log.Level = "debug"
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时使用默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) readDotEnv() (map[string]string, error) {
	if l.dotEnvPath == "" {
		return nil, nil
	}
	values, err := godotenv.Read(l.dotEnvPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return values, nil
}

// applyLegacyEnv 旧键先于带前缀的键写入，因此带前缀的键优先
func (l *Loader) applyLegacyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	root := reflect.ValueOf(cfg).Elem()
	for _, key := range legacyEnv {
		value, ok := lookup(key)
		if !ok || value == "" {
			continue
		}
		field, ok := fieldByEnvPath(root, key)
		if !ok {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// fieldByEnvPath 按 env 标签路径（如 CHAT_API_KEY）定位字段
func fieldByEnvPath(v reflect.Value, path string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if rest, ok := strings.CutPrefix(path, tag+"_"); ok {
				if f, ok := fieldByEnvPath(field, rest); ok {
					return f, true
				}
			}
			continue
		}
		if tag == path {
			return field, true
		}
	}
	return reflect.Value{}, false
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := envTag
		if prefix != "" {
			envKey = prefix + "_" + envTag
		}

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey, lookup); err != nil {
				return err
			}
			continue
		}

		envValue, ok := lookup(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.Pointer:
		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)

	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，返回所有问题的聚合错误
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("server.http_port must be in 1..65535"))
	}
	if c.Chat.Temperature != nil && (*c.Chat.Temperature < 0 || *c.Chat.Temperature > 2) {
		errs = append(errs, errors.New("chat.temperature must be between 0 and 2"))
	}
	if c.Chat.TopP != nil && (*c.Chat.TopP < 0 || *c.Chat.TopP > 1) {
		errs = append(errs, errors.New("chat.top_p must be between 0 and 1"))
	}
	if c.Chat.MaxRetries < 0 {
		errs = append(errs, errors.New("chat.max_retries must not be negative"))
	}
	if c.Workflow.StepBudgetFactor < 1 {
		errs = append(errs, errors.New("workflow.step_budget_factor must be at least 1"))
	}
	if c.Knowledge.TopK <= 0 {
		errs = append(errs, errors.New("knowledge.top_k must be positive"))
	}
	switch c.Knowledge.VectorStore {
	case "memory":
	case "qdrant":
		if c.Knowledge.Qdrant.Collection == "" {
			errs = append(errs, errors.New("knowledge.qdrant.collection is required for the qdrant vector store"))
		}
	default:
		errs = append(errs, fmt.Errorf("knowledge.vector_store %q is not supported", c.Knowledge.VectorStore))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
