package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/llm"
)

// Config 是 OpenAI 兼容嵌入服务的配置.
type Config struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
}

// OpenAIProvider 调用 /v1/embeddings.
type OpenAIProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider 创建嵌入客户端并补齐默认值.
func NewOpenAIProvider(cfg Config, logger *zap.Logger) *OpenAIProvider {
	if cfg.Name == "" {
		cfg.Name = "openai-embedding"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "embedding")),
	}
}

func (p *OpenAIProvider) Name() string    { return p.cfg.Name }
func (p *OpenAIProvider) Dimensions() int { return p.cfg.Dimensions }

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed 生成嵌入，结果按输入顺序排列.
func (p *OpenAIProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return &EmbeddingResponse{Provider: p.Name(), Model: p.cfg.Model}, nil
	}
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	dims := req.Dimensions
	if dims == 0 {
		dims = p.cfg.Dimensions
	}

	payload, err := json.Marshal(openAIEmbedRequest{Input: req.Input, Model: model, Dimensions: dims})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: ctx.Err() == nil, Provider: p.Name(), Cause: err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, llm.MapHTTPError(resp.StatusCode, llm.ReadErrorMessage(resp.Body), p.Name())
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var oaResp openAIEmbedResponse
	if err := json.Unmarshal(body, &oaResp); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings: %w", err)
	}
	if len(oaResp.Data) != len(req.Input) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d inputs, got %d vectors", len(req.Input), len(oaResp.Data))
	}

	embeddings := make([]EmbeddingData, len(oaResp.Data))
	for i, d := range oaResp.Data {
		embeddings[i] = EmbeddingData{Index: d.Index, Embedding: d.Embedding}
	}
	sort.Slice(embeddings, func(i, j int) bool { return embeddings[i].Index < embeddings[j].Index })

	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      oaResp.Model,
		Embeddings: embeddings,
		Usage: EmbeddingUsage{
			PromptTokens: oaResp.Usage.PromptTokens,
			TotalTokens:  oaResp.Usage.TotalTokens,
		},
	}, nil
}

// EmbedQuery 嵌入单个查询字符串.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments 按 MaxBatch 分批嵌入多个文档.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	result := make([][]float64, 0, len(documents))
	for start := 0; start < len(documents); start += p.cfg.MaxBatch {
		end := min(start+p.cfg.MaxBatch, len(documents))
		resp, err := p.Embed(ctx, &EmbeddingRequest{Input: documents[start:end], InputType: InputTypeDocument})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		for _, emb := range resp.Embeddings {
			result = append(result, emb.Embedding)
		}
		p.logger.Debug("embedded batch", zap.Int("from", start), zap.Int("to", end), zap.Int("tokens", resp.Usage.TotalTokens))
	}
	return result, nil
}
