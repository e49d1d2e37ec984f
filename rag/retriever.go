package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/llm/embedding"
	"github.com/BaSui01/flowrun/workflow"
)

// Embedder 是 KnowledgeRetriever 需要的嵌入能力，embedding.Provider 满足该接口
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)
}

var _ Embedder = (embedding.Provider)(nil)

// RetrieverConfig 检索配置
type RetrieverConfig struct {
	TopK     int            `json:"top_k" yaml:"top_k"`
	MinScore float64        `json:"min_score" yaml:"min_score"` // 低于该相似度的结果被丢弃，0 表示不过滤
	Chunking ChunkingConfig `json:"chunking" yaml:"chunking"`
}

// DefaultRetrieverConfig 默认检索配置
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:     3,
		Chunking: DefaultChunkingConfig(),
	}
}

// KnowledgeRetriever 实现 workflow.Retriever：嵌入查询，检索 top-K 分块，
// 以空行拼接为上下文。空知识库返回空字符串而不是错误。
type KnowledgeRetriever struct {
	store    VectorStore
	embedder Embedder
	chunker  *DocumentChunker
	config   RetrieverConfig
	logger   *zap.Logger
}

var _ workflow.Retriever = (*KnowledgeRetriever)(nil)

// NewKnowledgeRetriever 创建检索器；store 为 nil 时使用内存向量存储
func NewKnowledgeRetriever(store VectorStore, embedder Embedder, chunker *DocumentChunker, config RetrieverConfig, logger *zap.Logger) *KnowledgeRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewInMemoryVectorStore(logger)
	}
	if config.TopK <= 0 {
		config.TopK = DefaultRetrieverConfig().TopK
	}
	if chunker == nil {
		chunker = NewDocumentChunker(config.Chunking, nil, logger)
	}
	return &KnowledgeRetriever{
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		config:   config,
		logger:   logger.With(zap.String("component", "knowledge_retriever")),
	}
}

// Index 分块、嵌入并写入向量存储，返回写入的分块数
func (r *KnowledgeRetriever) Index(ctx context.Context, docs []Document) (int, error) {
	var chunks []Document
	for _, doc := range docs {
		chunks = append(chunks, r.chunker.ChunkDocument(doc)...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	start := time.Now()
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := r.store.AddDocuments(ctx, chunks); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	r.logger.Info("knowledge indexed",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(start)))
	return len(chunks), nil
}

// Search 返回 top-K 检索结果
func (r *KnowledgeRetriever) Search(ctx context.Context, query string) ([]VectorSearchResult, error) {
	count, err := r.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.store.Search(ctx, vec, r.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if r.config.MinScore > 0 {
		kept := results[:0]
		for _, res := range results {
			if res.Score >= r.config.MinScore {
				kept = append(kept, res)
			}
		}
		results = kept
	}
	return results, nil
}

// Retrieve 实现 workflow.Retriever
func (r *KnowledgeRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	results, err := r.Search(ctx, query)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, res.Document.Content)
	}

	r.logger.Debug("knowledge retrieved",
		zap.Int("hits", len(parts)),
		zap.Int("query_len", len(query)))
	return strings.Join(parts, "\n\n"), nil
}
