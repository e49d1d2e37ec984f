package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowrun/llm/retry"
	"github.com/BaSui01/flowrun/llm/tokenizer"
	"github.com/BaSui01/flowrun/types"
	"github.com/BaSui01/flowrun/workflow"
)

// ResponseCache 缓存完整的补全文本，llm/cache.PromptCache 实现该接口。
type ResponseCache interface {
	Lookup(ctx context.Context, req *ChatRequest) (string, bool)
	Store(ctx context.Context, req *ChatRequest, resp *ChatResponse)
}

// CallRecorder 记录 LLM 调用与缓存指标，internal/metrics.Collector 实现该接口。
type CallRecorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
	RecordCacheLookup(hit bool)
}

// ChatModelConfig 是未被节点 llmParam 覆盖时使用的默认调用参数。
type ChatModelConfig struct {
	Model        string
	SystemPrompt string
	Temperature  *float64
	TopP         *float64
	MaxTokens    int
	Timeout      time.Duration

	// RateLimitRPS <= 0 表示不限流
	RateLimitRPS float64
	Burst        int
}

// ChatModel 把 Provider 适配为 workflow.ChatModel：合并参数、限流、重试、
// 缓存并记录 token 用量。
type ChatModel struct {
	provider  Provider
	cfg       ChatModelConfig
	limiter   *rate.Limiter
	policy    *retry.RetryPolicy
	retryer   retry.Retryer
	cache     ResponseCache
	metrics   CallRecorder
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

var _ workflow.ChatModel = (*ChatModel)(nil)

// ChatModelOption 配置 ChatModel
type ChatModelOption func(*ChatModel)

// WithRetryPolicy 设置重试策略；判定函数固定为 IsRetryable。
func WithRetryPolicy(policy *retry.RetryPolicy) ChatModelOption {
	return func(m *ChatModel) { m.policy = policy }
}

// WithResponseCache 启用响应缓存
func WithResponseCache(c ResponseCache) ChatModelOption {
	return func(m *ChatModel) { m.cache = c }
}

// WithCallRecorder 设置指标记录器
func WithCallRecorder(r CallRecorder) ChatModelOption {
	return func(m *ChatModel) { m.metrics = r }
}

// WithTokenizer 覆盖按模型选择的默认分词器
func WithTokenizer(t tokenizer.Tokenizer) ChatModelOption {
	return func(m *ChatModel) { m.tokenizer = t }
}

// WithChatLogger 设置日志
func WithChatLogger(logger *zap.Logger) ChatModelOption {
	return func(m *ChatModel) {
		if logger != nil {
			m.logger = logger.With(zap.String("component", "chat_model"))
		}
	}
}

// NewChatModel 创建 ChatModel。未设置重试策略时使用 DefaultRetryPolicy。
func NewChatModel(provider Provider, cfg ChatModelConfig, opts ...ChatModelOption) *ChatModel {
	m := &ChatModel{
		provider: provider,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	policy := retry.DefaultRetryPolicy()
	if m.policy != nil {
		p := *m.policy
		policy = &p
	}
	policy.ShouldRetry = IsRetryable
	m.retryer = retry.NewBackoffRetryer(policy, m.logger)
	if m.tokenizer == nil {
		m.tokenizer = tokenizer.New(cfg.Model)
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return m
}

// buildRequest 节点参数优先，其次是默认配置。
func (m *ChatModel) buildRequest(ctx context.Context, req workflow.ModelRequest) *ChatRequest {
	p := req.Params
	out := &ChatRequest{
		Model:       firstNonEmpty(p.Model, m.cfg.Model),
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		Timeout:     m.cfg.Timeout,
	}
	if p.MaxTokens > 0 {
		out.MaxTokens = p.MaxTokens
	}
	if p.Temperature != nil {
		out.Temperature = p.Temperature
	}
	if p.TopP != nil {
		out.TopP = p.TopP
	}
	if system := firstNonEmpty(p.SystemPrompt, m.cfg.SystemPrompt); system != "" {
		out.Messages = append(out.Messages, Message{Role: RoleSystem, Content: system})
	}
	out.Messages = append(out.Messages, Message{Role: RoleUser, Content: req.Prompt})

	if id, ok := types.TraceID(ctx); ok {
		out.TraceID = id
	} else if id, ok := types.RunID(ctx); ok {
		out.TraceID = id
	}
	return out
}

// Invoke 实现 workflow.ChatModel。
func (m *ChatModel) Invoke(ctx context.Context, req workflow.ModelRequest) (string, error) {
	if m.provider == nil {
		return "", &Error{Code: ErrProviderUnavailable, Message: "no chat provider configured", HTTPStatus: http.StatusServiceUnavailable}
	}
	chatReq := m.buildRequest(ctx, req)

	if m.cache != nil {
		text, hit := m.cache.Lookup(ctx, chatReq)
		if m.metrics != nil {
			m.metrics.RecordCacheLookup(hit)
		}
		if hit {
			m.logger.Debug("chat served from cache", zap.String("model", chatReq.Model))
			return text, nil
		}
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", &Error{
				Code: ErrRateLimited, Message: "local rate limiter: " + err.Error(),
				HTTPStatus: http.StatusTooManyRequests, Provider: m.provider.Name(), Cause: err,
			}
		}
	}

	start := time.Now()
	resp, err := retry.DoWithResultTyped(m.retryer, ctx, func() (*ChatResponse, error) {
		return m.provider.Completion(ctx, chatReq)
	})
	duration := time.Since(start)

	if err != nil {
		m.record(chatReq.Model, "error", duration, 0, 0)
		m.logger.Warn("chat completion failed",
			zap.String("model", chatReq.Model),
			zap.Duration("duration", duration),
			zap.Error(err))
		return "", err
	}

	text, ok := resp.FirstContent()
	if !ok {
		m.record(chatReq.Model, "error", duration, 0, 0)
		return "", &Error{
			Code: ErrEmptyResponse, Message: "response contains no choices",
			HTTPStatus: http.StatusBadGateway, Provider: m.provider.Name(),
		}
	}

	promptTokens, completionTokens := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens, completionTokens = m.estimateUsage(chatReq, text)
	}
	m.record(firstNonEmpty(resp.Model, chatReq.Model), "success", duration, promptTokens, completionTokens)

	if m.cache != nil {
		m.cache.Store(ctx, chatReq, resp)
	}
	return text, nil
}

// estimateUsage 上游未返回 usage 时用分词器估算。
func (m *ChatModel) estimateUsage(req *ChatRequest, completion string) (int, int) {
	msgs := make([]tokenizer.Message, len(req.Messages))
	for i, msg := range req.Messages {
		msgs[i] = tokenizer.Message{Role: string(msg.Role), Content: msg.Content}
	}
	prompt, err := m.tokenizer.CountMessages(msgs)
	if err != nil {
		m.logger.Debug("token estimation failed", zap.Error(err))
		return 0, 0
	}
	out, err := m.tokenizer.CountTokens(completion)
	if err != nil {
		return prompt, 0
	}
	return prompt, out
}

func (m *ChatModel) record(model, status string, d time.Duration, promptTokens, completionTokens int) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordLLMRequest(m.provider.Name(), model, status, d, promptTokens, completionTokens)
}

// HealthCheck 透传 Provider 健康检查
func (m *ChatModel) HealthCheck(ctx context.Context) error {
	if m.provider == nil {
		return errors.New("no chat provider configured")
	}
	status, err := m.provider.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy {
		return errors.New(m.provider.Name() + " is unhealthy")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
