package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QdrantConfig Qdrant REST 向量存储配置。
// 点 ID 由 Document.ID 派生为稳定的 UUID，原始 ID 与内容存放在 payload 中。
type QdrantConfig struct {
	BaseURL    string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	Collection string        `json:"collection" yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`

	// AutoCreate 首次写入时按向量维度创建集合（已存在则忽略）
	AutoCreate bool `json:"auto_create" yaml:"auto_create" env:"AUTO_CREATE"`
}

const (
	payloadDocID    = "doc_id"
	payloadContent  = "content"
	payloadMetadata = "metadata"
)

var errNoCollection = errors.New("qdrant collection is required")

// QdrantStore 基于 Qdrant REST API 的 VectorStore 实现
type QdrantStore struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

var _ VectorStore = (*QdrantStore)(nil)

// NewQdrantStore 创建 Qdrant 向量存储
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("6f1c2a8e-3b7d-4c55-9e1a-0d4b8f2c7a31")

// qdrantPointID Qdrant 只接受整数或 UUID 作为点 ID
func qdrantPointID(docID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(docID)).String()
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

func (s *QdrantStore) ensureCollection(ctx context.Context, size int) error {
	if !s.cfg.AutoCreate {
		return nil
	}
	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{"size": size, "distance": "Cosine"},
		}
		err := s.doJSON(ctx, http.MethodPut, s.collectionPath(""), body, nil)
		var se *qdrantStatusError
		if errors.As(err, &se) && se.status == http.StatusConflict {
			err = nil
		}
		s.ensureErr = err
	})
	return s.ensureErr
}

type qdrantStatusError struct {
	method, path string
	status       int
	body         string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.method, e.path, e.status, e.body)
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &qdrantStatusError{method: method, path: path, status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// AddDocuments upsert 文档；所有向量维度必须一致
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if s.cfg.Collection == "" {
		return errNoCollection
	}

	size := len(docs[0].Embedding)
	points := make([]qdrantPoint, 0, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
		if len(doc.Embedding) != size {
			return fmt.Errorf("document %s embedding dimension %d, want %d", doc.ID, len(doc.Embedding), size)
		}
		points = append(points, qdrantPoint{
			ID:     qdrantPointID(doc.ID),
			Vector: doc.Embedding,
			Payload: map[string]any{
				payloadDocID:    doc.ID,
				payloadContent:  doc.Content,
				payloadMetadata: doc.Metadata,
			},
		})
	}

	if err := s.ensureCollection(ctx, size); err != nil {
		return err
	}
	body := map[string]any{"points": points}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return err
	}
	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(docs)))
	return nil
}

// Search 查询最相似的 topK 个点
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]VectorSearchResult, error) {
	if s.cfg.Collection == "" {
		return nil, errNoCollection
	}
	if topK <= 0 {
		return []VectorSearchResult{}, nil
	}

	req := map[string]any{
		"vector":       queryEmbedding,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}

	out := make([]VectorSearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		doc := Document{}
		doc.ID, _ = r.Payload[payloadDocID].(string)
		doc.Content, _ = r.Payload[payloadContent].(string)
		doc.Metadata, _ = r.Payload[payloadMetadata].(map[string]any)
		if doc.ID == "" {
			doc.ID = fmt.Sprint(r.ID)
		}
		out = append(out, VectorSearchResult{Document: doc, Score: r.Score})
	}
	return out, nil
}

// DeleteDocuments 删除文档
func (s *QdrantStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if s.cfg.Collection == "" {
		return errNoCollection
	}
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		points = append(points, qdrantPointID(id))
	}
	return s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"),
		map[string]any{"points": points}, nil)
}

// Count 精确计数
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	if s.cfg.Collection == "" {
		return 0, errNoCollection
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/count"),
		map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}
