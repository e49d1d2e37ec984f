package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/flowrun/internal/cache"
	"github.com/BaSui01/flowrun/llm"
	"go.uber.org/zap"
)

// ErrCacheMiss 与 internal/cache 共用同一个哨兵，方便上层统一判断。
var ErrCacheMiss = cache.ErrCacheMiss

// Store 是 L2 远端存储，*cache.Manager 满足该接口。
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Text        string    `json:"text"`
	Model       string    `json:"model"`
	TokensSaved int       `json:"tokens_saved"`
	CreatedAt   time.Time `json:"created_at"`
}

// Config 缓存配置
type Config struct {
	LocalMaxSize int           // 本地缓存最大条目数，0 表示不启用本地缓存
	LocalTTL     time.Duration // 本地缓存 TTL
	RemoteTTL    time.Duration // 远端缓存 TTL
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RemoteTTL:    time.Hour,
	}
}

// PromptCache 两级 Prompt 响应缓存：本地 LRU 作为 L1，Redis 作为 L2。
// 实现 llm.ResponseCache。
type PromptCache struct {
	local  *lruCache
	remote Store
	config Config
	logger *zap.Logger
}

// NewPromptCache 创建 Prompt 缓存；remote 为 nil 时只使用本地缓存。
func NewPromptCache(remote Store, config Config, logger *zap.Logger) *PromptCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &PromptCache{
		remote: remote,
		config: config,
		logger: logger.With(zap.String("component", "prompt_cache")),
	}
	if config.LocalMaxSize > 0 {
		c.local = newLRUCache(config.LocalMaxSize, config.LocalTTL)
	}
	return c
}

// cacheKeyFields 参与缓存键计算的字段；TraceID 与 Timeout 不影响响应内容。
type cacheKeyFields struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

// GenerateKey 基于请求内容生成确定性的缓存键。
func GenerateKey(req *llm.ChatRequest) string {
	data, err := json.Marshal(cacheKeyFields{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		data = []byte(fmt.Sprintf("%v", *req))
	}
	hash := sha256.Sum256(data)
	return "llm:prompt:" + hex.EncodeToString(hash[:16])
}

// Get 先查 L1，再查 L2 并回填 L1。
func (c *PromptCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	if c.local != nil {
		if entry, ok := c.local.get(key); ok {
			c.logger.Debug("local cache hit", zap.String("key", key))
			return entry, nil
		}
	}

	if c.remote == nil {
		return nil, ErrCacheMiss
	}
	data, err := c.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("remote cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, ErrCacheMiss
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		_ = c.remote.Delete(ctx, key)
		return nil, ErrCacheMiss
	}
	if c.local != nil {
		c.local.set(key, &entry)
	}
	c.logger.Debug("remote cache hit", zap.String("key", key))
	return &entry, nil
}

// Set 写入两级缓存。
func (c *PromptCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if c.local != nil {
		c.local.set(key, entry)
	}
	if c.remote == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.remote.Set(ctx, key, string(data), c.config.RemoteTTL)
}

// Delete 删除两级缓存中的条目。
func (c *PromptCache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.delete(key)
	}
	if c.remote == nil {
		return nil
	}
	return c.remote.Delete(ctx, key)
}

// Lookup 实现 llm.ResponseCache。
func (c *PromptCache) Lookup(ctx context.Context, req *llm.ChatRequest) (string, bool) {
	entry, err := c.Get(ctx, GenerateKey(req))
	if err != nil {
		return "", false
	}
	return entry.Text, true
}

// Store 实现 llm.ResponseCache；写入失败只记录日志。
func (c *PromptCache) Store(ctx context.Context, req *llm.ChatRequest, resp *llm.ChatResponse) {
	text, ok := resp.FirstContent()
	if !ok {
		return
	}
	err := c.Set(ctx, GenerateKey(req), &CacheEntry{
		Text:        text,
		Model:       resp.Model,
		TokensSaved: resp.Usage.TotalTokens,
	})
	if err != nil {
		c.logger.Warn("cache store failed", zap.Error(err))
	}
}
