package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorStore 向量存储接口
type VectorStore interface {
	// AddDocuments 添加文档，同 ID 的文档被替换
	AddDocuments(ctx context.Context, docs []Document) error

	// Search 返回与查询向量最相似的 topK 个文档
	Search(ctx context.Context, queryEmbedding []float64, topK int) ([]VectorSearchResult, error)

	// DeleteDocuments 删除文档
	DeleteDocuments(ctx context.Context, ids []string) error

	// Count 获取文档数量
	Count(ctx context.Context) (int, error)
}

// VectorSearchResult 向量搜索结果
type VectorSearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// InMemoryVectorStore 内存向量存储，按插入顺序保存文档
type InMemoryVectorStore struct {
	mu        sync.RWMutex
	documents []Document
	index     map[string]int
	logger    *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		index:  make(map[string]int),
		logger: logger.With(zap.String("component", "vector_store")),
	}
}

// AddDocuments 添加文档；任何一个文档缺少向量时整批拒绝
func (s *InMemoryVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if i, ok := s.index[doc.ID]; ok {
			s.documents[i] = doc
			continue
		}
		s.index[doc.ID] = len(s.documents)
		s.documents = append(s.documents, doc)
	}

	s.logger.Debug("documents added to vector store",
		zap.Int("count", len(docs)),
		zap.Int("total", len(s.documents)))
	return nil
}

// Search 余弦相似度检索，分数相同时保持插入顺序
func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]VectorSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 || len(s.documents) == 0 {
		return []VectorSearchResult{}, nil
	}

	results := make([]VectorSearchResult, 0, len(s.documents))
	for _, doc := range s.documents {
		results = append(results, VectorSearchResult{
			Document: doc,
			Score:    cosineSimilarity(queryEmbedding, doc.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// DeleteDocuments 删除文档，不存在的 ID 被忽略
func (s *InMemoryVectorStore) DeleteDocuments(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := s.documents[:0]
	for _, doc := range s.documents {
		if !drop[doc.ID] {
			kept = append(kept, doc)
		}
	}
	deleted := len(s.documents) - len(kept)
	s.documents = kept

	s.index = make(map[string]int, len(kept))
	for i, doc := range kept {
		s.index[doc.ID] = i
	}

	s.logger.Debug("documents deleted from vector store",
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(s.documents)))
	return nil
}

// Count 返回文档数量
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// cosineSimilarity 维度不一致或零向量时返回 0
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
