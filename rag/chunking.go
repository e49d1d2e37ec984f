package rag

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/llm/tokenizer"
)

// ChunkingConfig 分块配置，单位为 token
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`       // 块大小上限
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"` // 相邻块重叠上限
}

// DefaultChunkingConfig 默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:    512,
		ChunkOverlap: 64,
	}
}

// DocumentChunker 按段落、句子、字符的顺序递归切分，再贪心打包到 ChunkSize 以内
type DocumentChunker struct {
	config    ChunkingConfig
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewDocumentChunker 创建文档分块器；tok 为 nil 时使用估算器
func NewDocumentChunker(config ChunkingConfig, tok tokenizer.Tokenizer, logger *zap.Logger) *DocumentChunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkingConfig().ChunkSize
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}
	if tok == nil {
		tok = tokenizer.NewEstimatorTokenizer("", 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentChunker{config: config, tokenizer: tok, logger: logger}
}

// unit 是不可再合并拆分的最小片段，sep 是它与前一片段之间的连接符
type unit struct {
	text   string
	sep    string
	tokens int
}

func (c *DocumentChunker) count(text string) int {
	n, err := c.tokenizer.CountTokens(text)
	if err != nil {
		return utf8.RuneCountInString(text)
	}
	return n
}

// ChunkDocument 把文档切成若干子文档，ID 为 "<父ID>#<序号>"
func (c *DocumentChunker) ChunkDocument(doc Document) []Document {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return nil
	}

	var units []unit
	for i, para := range splitParagraphs(content) {
		sep := "\n\n"
		if i == 0 {
			sep = ""
		}
		units = append(units, c.split(para, sep)...)
	}

	texts := c.pack(units)
	chunks := make([]Document, 0, len(texts))
	for i, text := range texts {
		meta := make(map[string]any, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["parent_id"] = doc.ID
		meta["chunk_index"] = i
		chunks = append(chunks, Document{
			ID:       fmt.Sprintf("%s#%d", doc.ID, i),
			Content:  text,
			Metadata: meta,
		})
	}

	c.logger.Debug("document chunked",
		zap.String("doc_id", doc.ID),
		zap.Int("chunks", len(chunks)))
	return chunks
}

// split 把超出 ChunkSize 的段落拆成句子，句子仍超出时按字符对半切
func (c *DocumentChunker) split(text, sep string) []unit {
	tokens := c.count(text)
	if tokens <= c.config.ChunkSize {
		return []unit{{text: text, sep: sep, tokens: tokens}}
	}

	sentences := splitSentences(text)
	if len(sentences) > 1 {
		var out []unit
		for i, s := range sentences {
			ssep := ""
			if i == 0 {
				ssep = sep
			}
			out = append(out, c.split(s, ssep)...)
		}
		return out
	}

	runes := []rune(text)
	if len(runes) <= 1 {
		return []unit{{text: text, sep: sep, tokens: tokens}}
	}
	mid := len(runes) / 2
	return append(c.split(string(runes[:mid]), sep), c.split(string(runes[mid:]), "")...)
}

// pack 贪心合并片段；新块开头带上前一块末尾不超过 ChunkOverlap 的片段
func (c *DocumentChunker) pack(units []unit) []string {
	var (
		out     []string
		current []unit
		size    int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		var b strings.Builder
		for i, u := range current {
			if i > 0 {
				b.WriteString(u.sep)
			}
			b.WriteString(u.text)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			out = append(out, text)
		}
	}

	fresh := 0
	for _, u := range units {
		if fresh > 0 && size+u.tokens > c.config.ChunkSize {
			flush()
			current, size = c.overlapTail(current)
			fresh = 0
			for size > 0 && size+u.tokens > c.config.ChunkSize {
				size -= current[0].tokens
				current = current[1:]
			}
		}
		current = append(current, u)
		size += u.tokens
		fresh++
	}
	if fresh > 0 {
		flush()
	}
	return out
}

func (c *DocumentChunker) overlapTail(units []unit) ([]unit, int) {
	if c.config.ChunkOverlap == 0 {
		return nil, 0
	}
	size, start := 0, len(units)
	for start > 0 && size+units[start-1].tokens <= c.config.ChunkOverlap {
		start--
		size += units[start].tokens
	}
	tail := make([]unit, len(units)-start)
	copy(tail, units[start:])
	return tail, size
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences 在句末标点或换行后切分，分隔符保留在前一句末尾
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		next := i + 1
		if r == '.' && next < len(runes) && !unicode.IsSpace(runes[next]) {
			continue
		}
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
		}
		out = append(out, string(runes[start:next]))
		start = next
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？', '；':
		return true
	}
	return false
}
