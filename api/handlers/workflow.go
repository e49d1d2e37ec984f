package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/api"
	"github.com/BaSui01/flowrun/internal/defstore"
	"github.com/BaSui01/flowrun/types"
	"github.com/BaSui01/flowrun/workflow"
	"github.com/BaSui01/flowrun/workflow/dsl"
)

// =============================================================================
// 🔀 工作流 Handler
// =============================================================================

// TemplateStore 模板持久化，defstore.Store 实现该接口
type TemplateStore interface {
	Save(ctx context.Context, name, format, definition string) (*defstore.Template, error)
	Get(ctx context.Context, name string) (*defstore.Template, error)
	List(ctx context.Context) ([]defstore.Template, error)
	Delete(ctx context.Context, name string) error
}

// ExecutorFactory 为编译好的图创建执行器，调用方在这里注入模型与检索器
type ExecutorFactory func(g *workflow.Graph) (*workflow.Executor, error)

// StreamRecorder 记录已推送的字符数
type StreamRecorder interface {
	RecordStreamedChars(n int)
}

type cachedExecutor struct {
	version int
	exec    *workflow.Executor
}

// WorkflowHandler 工作流模板管理与运行处理器
type WorkflowHandler struct {
	store       TemplateStore
	parser      *dsl.Parser
	newExecutor ExecutorFactory
	stream      StreamRecorder
	batchLimit  int
	logger      *zap.Logger

	mu        sync.Mutex
	executors map[string]cachedExecutor
}

// WorkflowOption 配置 WorkflowHandler
type WorkflowOption func(*WorkflowHandler)

// WithStreamRecorder 设置流式字符计数
func WithStreamRecorder(r StreamRecorder) WorkflowOption {
	return func(h *WorkflowHandler) { h.stream = r }
}

// WithBatchConcurrency 设置批量运行并发上限
func WithBatchConcurrency(n int) WorkflowOption {
	return func(h *WorkflowHandler) { h.batchLimit = n }
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(store TemplateStore, newExecutor ExecutorFactory, logger *zap.Logger, opts ...WorkflowOption) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WorkflowHandler{
		store:       store,
		parser:      dsl.NewParser(logger),
		newExecutor: newExecutor,
		batchLimit:  4,
		logger:      logger.With(zap.String("handler", "workflow")),
		executors:   make(map[string]cachedExecutor),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 在 mux 上注册全部路由
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/workflows", h.HandleList)
	mux.HandleFunc("PUT /v1/workflows/{name}", h.HandlePut)
	mux.HandleFunc("GET /v1/workflows/{name}", h.HandleGet)
	mux.HandleFunc("DELETE /v1/workflows/{name}", h.HandleDelete)
	mux.HandleFunc("POST /v1/workflows/{name}/runs", h.HandleRun)
	mux.HandleFunc("POST /v1/workflows/{name}/runs/stream", h.HandleStream)
	mux.HandleFunc("POST /v1/workflows/{name}/batch", h.HandleBatch)
	mux.HandleFunc("GET /v1/workflows/{name}/ws", h.HandleWebSocket)
}

// =============================================================================
// 📄 模板管理
// =============================================================================

// HandlePut 处理 PUT /v1/workflows/{name}：校验并编译模板后保存
func (h *WorkflowHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := defstore.ValidateName(name); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "failed to read body").WithCause(err), h.logger)
		return
	}

	graph, err := h.parser.Parse(body)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	tpl, err := h.store.Save(r.Context(), name, detectFormat(body), string(body))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	h.evict(name)

	WriteSuccess(w, api.TemplateDetail{
		TemplateInfo: toInfo(*tpl),
		Definition:   tpl.Definition,
		NodeCount:    graph.NodeCount(),
	})
}

// HandleGet 处理 GET /v1/workflows/{name}
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.store.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.TemplateDetail{
		TemplateInfo: toInfo(*tpl),
		Definition:   tpl.Definition,
	})
}

// HandleList 处理 GET /v1/workflows
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.store.List(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	out := make([]api.TemplateInfo, len(tpls))
	for i, t := range tpls {
		out[i] = toInfo(t)
	}
	WriteSuccess(w, out)
}

// HandleDelete 处理 DELETE /v1/workflows/{name}
func (h *WorkflowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.store.Delete(r.Context(), name); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	h.evict(name)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ▶️ 运行
// =============================================================================

// HandleRun 处理 POST /v1/workflows/{name}/runs，同步返回完整结果
func (h *WorkflowHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.executorFor(w, r)
	if !ok {
		return
	}
	var req api.RunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := exec.Run(runContext(r), req.Inputs)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, toRunResponse(res))
}

// HandleStream 处理 POST /v1/workflows/{name}/runs/stream：
// 每个字符一条 SSE data 事件，最后发送 [DONE]
func (h *WorkflowHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.executorFor(w, r)
	if !ok {
		return
	}
	var req api.RunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	// 运行在第一个字符前完成，失败时仍可返回普通 JSON 错误
	stream, err := exec.Stream(runContext(r), req.Inputs)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sent := 0
	for c := range stream.Chars() {
		if r.Context().Err() != nil {
			break
		}
		data, _ := json.Marshal(api.StreamEvent{Char: string(c)})
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			h.logger.Debug("stream client gone", zap.Error(err))
			break
		}
		flusher.Flush()
		sent++
	}
	h.recordStreamed(sent)

	if r.Context().Err() == nil {
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// HandleBatch 处理 POST /v1/workflows/{name}/batch，任一运行失败则整体失败
func (h *WorkflowHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.executorFor(w, r)
	if !ok {
		return
	}
	var req api.BatchRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Runs) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "runs must not be empty", h.logger)
		return
	}

	seeds := make([]map[string]any, len(req.Runs))
	for i, run := range req.Runs {
		seeds[i] = run.Inputs
	}
	results, err := exec.RunBatch(runContext(r), seeds, h.batchLimit)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	out := api.BatchRunResponse{Results: make([]api.RunResponse, len(results))}
	for i, res := range results {
		out.Results[i] = toRunResponse(res)
	}
	WriteSuccess(w, out)
}

// HandleWebSocket 处理 GET /v1/workflows/{name}/ws：
// 查询参数作为字符串种子，每个字符一帧，最后发送 done 帧
func (h *WorkflowHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.executorFor(w, r)
	if !ok {
		return
	}

	seed := make(map[string]any)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			seed[k] = v[0]
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := runContext(r)
	stream, err := exec.Stream(ctx, seed)
	if err != nil {
		h.writeFrame(ctx, conn, api.StreamEvent{Error: err.Error(), Done: true})
		conn.Close(websocket.StatusInternalError, "run failed")
		return
	}

	sent := 0
	for c := range stream.Chars() {
		if err := h.writeFrame(ctx, conn, api.StreamEvent{Char: string(c)}); err != nil {
			h.logger.Debug("websocket client gone", zap.Error(err))
			h.recordStreamed(sent)
			return
		}
		sent++
	}
	h.recordStreamed(sent)

	if err := h.writeFrame(ctx, conn, api.StreamEvent{Done: true}); err != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

func (h *WorkflowHandler) writeFrame(ctx context.Context, conn *websocket.Conn, ev api.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// executorFor 读取模板并返回缓存的执行器；模板版本变化时重新编译
func (h *WorkflowHandler) executorFor(w http.ResponseWriter, r *http.Request) (*workflow.Executor, bool) {
	name := r.PathValue("name")
	tpl, err := h.store.Get(r.Context(), name)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return nil, false
	}

	h.mu.Lock()
	cached, ok := h.executors[name]
	h.mu.Unlock()
	if ok && cached.version == tpl.Version {
		return cached.exec, true
	}

	graph, err := h.parser.Parse([]byte(tpl.Definition))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return nil, false
	}
	exec, err := h.newExecutor(graph)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return nil, false
	}

	h.mu.Lock()
	h.executors[name] = cachedExecutor{version: tpl.Version, exec: exec}
	h.mu.Unlock()
	h.logger.Debug("executor compiled", zap.String("workflow", name), zap.Int("version", tpl.Version))
	return exec, true
}

func (h *WorkflowHandler) evict(name string) {
	h.mu.Lock()
	delete(h.executors, name)
	h.mu.Unlock()
}

func (h *WorkflowHandler) recordStreamed(n int) {
	if h.stream != nil && n > 0 {
		h.stream.RecordStreamedChars(n)
	}
}

func detectFormat(body []byte) string {
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		return "json"
	}
	return "yaml"
}

func toInfo(t defstore.Template) api.TemplateInfo {
	return api.TemplateInfo{
		Name:      t.Name,
		Format:    t.Format,
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toRunResponse(res *workflow.RunResult) api.RunResponse {
	out := api.RunResponse{
		RunID:  res.RunID,
		Output: res.Output.Collect(),
		Steps:  res.Steps,
	}
	if res.History != nil {
		out.Path = res.History.Path()
	}
	return out
}

var _ TemplateStore = (*defstore.Store)(nil)

// runContext 把路径中的工作流名称放进运行上下文
func runContext(r *http.Request) context.Context {
	return types.WithWorkflowName(r.Context(), r.PathValue("name"))
}
