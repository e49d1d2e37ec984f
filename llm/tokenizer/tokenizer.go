package tokenizer

import (
	"strings"
)

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，包括每条消息的开销。
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 是 tokenizer 包使用的轻量消息结构，避免依赖 llm 包。
type Message struct {
	Role    string
	Content string
}

// 非 OpenAI 模型的上下文长度，用于估算器。
var estimatorContext = map[string]int{
	"qwen-turbo": 131072,
	"qwen-plus":  131072,
	"qwen-max":   32768,
	"deepseek":   65536,
	"glm-4":      128000,
}

// New 按模型选择分词器：OpenAI 家族使用 tiktoken（初始化失败时回退估算器），
// 其余模型使用 CJK 感知的估算器。
func New(model string) Tokenizer {
	if info, ok := lookupEncoding(model); ok {
		return &fallbackTokenizer{
			primary:  newTiktoken(model, info),
			fallback: NewEstimatorTokenizer(model, info.maxTokens),
		}
	}
	return NewEstimatorTokenizer(model, lookupPrefix(estimatorContext, model))
}

// fallbackTokenizer 在 primary 出错时（例如编码表无法下载）改用 fallback。
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	if n, err := f.primary.CountTokens(text); err == nil {
		return n, nil
	}
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) CountMessages(messages []Message) (int, error) {
	if n, err := f.primary.CountMessages(messages); err == nil {
		return n, nil
	}
	return f.fallback.CountMessages(messages)
}

func (f *fallbackTokenizer) MaxTokens() int { return f.primary.MaxTokens() }

func (f *fallbackTokenizer) Name() string { return f.primary.Name() }

// lookupPrefix 精确匹配优先，其次取最长前缀匹配；未命中返回零值。
func lookupPrefix[V any](table map[string]V, model string) V {
	if v, ok := table[model]; ok {
		return v
	}
	var (
		best    V
		bestLen int
	)
	for prefix, v := range table {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = v, len(prefix)
		}
	}
	return best
}
