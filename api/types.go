package api

import "time"

// =============================================================================
// 工作流模板类型
// =============================================================================

// TemplateInfo 是模板的元信息，不含定义正文。
// @Description 工作流模板摘要
type TemplateInfo struct {
	// 模板名称
	Name string `json:"name" example:"qa-bot"`
	// 定义格式：json 或 yaml
	Format string `json:"format" example:"json"`
	// 每次覆盖自增的版本号
	Version   int       `json:"version" example:"1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TemplateDetail 是带定义正文的模板。
type TemplateDetail struct {
	TemplateInfo
	Definition string `json:"definition"`
	// 编译后的节点数
	NodeCount int `json:"node_count"`
}

// =============================================================================
// 运行类型
// =============================================================================

// RunRequest 是一次运行的种子输入，写入 Start 节点的输出。
// @Description 工作流运行请求
type RunRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// BatchRunRequest 是一组运行的种子输入。
type BatchRunRequest struct {
	Runs []RunRequest `json:"runs"`
}

// RunResponse 是一次运行的完整结果。
type RunResponse struct {
	RunID  string   `json:"run_id"`
	Output string   `json:"output"`
	Steps  int      `json:"steps"`
	Path   []string `json:"path"`
}

// BatchRunResponse 按请求顺序返回结果。
type BatchRunResponse struct {
	Results []RunResponse `json:"results"`
}

// StreamEvent 是 websocket 流中的一帧。Done 为 true 时 Char 为空。
type StreamEvent struct {
	Char  string `json:"char,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}
