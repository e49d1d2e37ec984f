package rag

// Document 知识库中的一段文本。Embedding 在入库前由 KnowledgeRetriever 填充。
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float64      `json:"embedding,omitempty"`
}
