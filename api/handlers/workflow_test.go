package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/api"
	"github.com/BaSui01/flowrun/config"
	"github.com/BaSui01/flowrun/internal/database"
	"github.com/BaSui01/flowrun/internal/defstore"
	"github.com/BaSui01/flowrun/internal/migration"
	"github.com/BaSui01/flowrun/types"
	"github.com/BaSui01/flowrun/workflow"
)

const echoTemplate = `{
  "nodes": [
    {"id": "s", "type": "1", "data": {"outputs": [{"name": "question", "type": "string", "required": true}]}},
    {"id": "e", "type": "2", "data": {"inputs": {"inputParameters": [
      {"name": "output", "input": {"type": "string", "value": {"type": "ref", "content": {"blockID": "s", "name": "question"}}}}
    ]}}}
  ],
  "edges": [{"sourceNodeID": "s", "targetNodeID": "e"}]
}`

const modelTemplate = `
nodes:
  - id: s
    type: start
    data:
      outputs:
        - name: question
          type: string
  - id: llm
    type: llm
    data:
      inputs:
        inputParameters:
          - name: question
            input:
              type: string
              value:
                type: ref
                content: {blockID: s, name: question}
  - id: e
    type: end
    data:
      inputs:
        inputParameters:
          - name: output
            input:
              type: string
              value:
                type: ref
                content: {blockID: llm, name: output}
edges:
  - {sourceNodeID: s, targetNodeID: llm}
  - {sourceNodeID: llm, targetNodeID: e}
`

type charCounter struct{ n atomic.Int64 }

func (c *charCounter) RecordStreamedChars(n int) { c.n.Add(int64(n)) }

type workflowEnv struct {
	store    *defstore.Store
	handler  *WorkflowHandler
	server   *httptest.Server
	chars    *charCounter
	compiles atomic.Int32
}

func newWorkflowEnv(t *testing.T) *workflowEnv {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}
	pool, err := database.Open(dbCfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	require.NoError(t, migration.MigrateUp(context.Background(), pool, dbCfg, zap.NewNop()))

	store := defstore.New(pool)

	env := &workflowEnv{store: store, chars: &charCounter{}}
	chat := workflow.ChatModelFunc(func(ctx context.Context, req workflow.ModelRequest) (string, error) {
		return "answer: " + req.Prompt, nil
	})
	factory := func(g *workflow.Graph) (*workflow.Executor, error) {
		env.compiles.Add(1)
		return workflow.NewExecutor(g, workflow.WithChatModel(chat))
	}
	env.handler = NewWorkflowHandler(store, factory, zap.NewNop(),
		WithStreamRecorder(env.chars),
		WithBatchConcurrency(2),
	)

	mux := http.NewServeMux()
	env.handler.Register(mux)
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)
	return env
}

func (env *workflowEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, env.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (env *workflowEnv) put(t *testing.T, name, tpl string) {
	t.Helper()
	resp := env.do(t, http.MethodPut, "/v1/workflows/"+name, tpl)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decodeResponse(t *testing.T, resp *http.Response, data any) Response {
	t.Helper()
	out := Response{Data: data}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// =============================================================================
// 🧪 模板管理
// =============================================================================

func TestWorkflowHandler_PutGetListDelete(t *testing.T) {
	env := newWorkflowEnv(t)

	resp := env.do(t, http.MethodPut, "/v1/workflows/echo", echoTemplate)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail api.TemplateDetail
	decodeResponse(t, resp, &detail)
	assert.Equal(t, "echo", detail.Name)
	assert.Equal(t, "json", detail.Format)
	assert.Equal(t, 1, detail.Version)
	assert.Equal(t, 2, detail.NodeCount)

	env.put(t, "model", modelTemplate)

	resp = env.do(t, http.MethodGet, "/v1/workflows/model", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail = api.TemplateDetail{}
	decodeResponse(t, resp, &detail)
	assert.Equal(t, "yaml", detail.Format)
	assert.Equal(t, modelTemplate, detail.Definition)

	resp = env.do(t, http.MethodGet, "/v1/workflows", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []api.TemplateInfo
	decodeResponse(t, resp, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "echo", list[0].Name)
	assert.Equal(t, "model", list[1].Name)

	resp = env.do(t, http.MethodDelete, "/v1/workflows/echo", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/workflows/echo", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	out := decodeResponse(t, resp, nil)
	assert.Equal(t, string(types.ErrNotFound), out.Error.Code)
}

func TestWorkflowHandler_PutRejectsInvalidTemplates(t *testing.T) {
	env := newWorkflowEnv(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   types.ErrorCode
	}{
		{
			name:   "bad name",
			path:   "/v1/workflows/-bad",
			body:   echoTemplate,
			status: http.StatusBadRequest,
			code:   types.ErrInvalidRequest,
		},
		{
			name:   "unparsable",
			path:   "/v1/workflows/broken",
			body:   `{"nodes": [`,
			status: http.StatusBadRequest,
			code:   types.ErrInvalidRequest,
		},
		{
			name:   "no end node",
			path:   "/v1/workflows/lonely",
			body:   `{"nodes":[{"id":"s","type":"1"}],"edges":[]}`,
			status: http.StatusBadRequest,
			code:   types.ErrStructural,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			out := decodeResponse(t, resp, nil)
			require.NotNil(t, out.Error)
			assert.Equal(t, string(tt.code), out.Error.Code)
		})
	}

	resp := env.do(t, http.MethodGet, "/v1/workflows", "")
	var list []api.TemplateInfo
	decodeResponse(t, resp, &list)
	assert.Empty(t, list, "rejected templates must not be stored")
}

func TestWorkflowHandler_DeleteMissing(t *testing.T) {
	env := newWorkflowEnv(t)

	resp := env.do(t, http.MethodDelete, "/v1/workflows/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// 🧪 运行
// =============================================================================

func TestWorkflowHandler_Run(t *testing.T) {
	env := newWorkflowEnv(t)
	env.put(t, "echo", echoTemplate)

	resp := env.do(t, http.MethodPost, "/v1/workflows/echo/runs", `{"inputs":{"question":"hello"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run api.RunResponse
	decodeResponse(t, resp, &run)
	assert.Equal(t, "hello", run.Output)
	assert.Equal(t, []string{"s", "e"}, run.Path)
	assert.Equal(t, 2, run.Steps)
	assert.NotEmpty(t, run.RunID)
}

func TestWorkflowHandler_RunErrors(t *testing.T) {
	env := newWorkflowEnv(t)
	env.put(t, "echo", echoTemplate)

	t.Run("unknown workflow", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/workflows/ghost/runs", `{"inputs":{}}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("missing required input", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/workflows/echo/runs", `{"inputs":{}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		out := decodeResponse(t, resp, nil)
		assert.Equal(t, string(types.ErrUnresolvedReference), out.Error.Code)
		assert.Equal(t, "s", out.Error.Node)
	})

	t.Run("wrong input type", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/workflows/echo/runs", `{"inputs":{"question":42}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("unknown body field", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/workflows/echo/runs", `{"seed":{}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestWorkflowHandler_ExecutorCachedPerVersion(t *testing.T) {
	env := newWorkflowEnv(t)
	env.put(t, "echo", echoTemplate)

	for range 3 {
		resp := env.do(t, http.MethodPost, "/v1/workflows/echo/runs", `{"inputs":{"question":"q"}}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int32(1), env.compiles.Load())

	env.put(t, "echo", modelTemplate)
	resp := env.do(t, http.MethodPost, "/v1/workflows/echo/runs", `{"inputs":{"question":"q"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run api.RunResponse
	decodeResponse(t, resp, &run)
	assert.Equal(t, "answer: q", run.Output)
	assert.Equal(t, int32(2), env.compiles.Load())
}

func TestWorkflowHandler_StreamSSE(t *testing.T) {
	env := newWorkflowEnv(t)
	env.put(t, "echo", echoTemplate)

	resp := env.do(t, http.MethodPost, "/v1/workflows/echo/runs/stream", `{"inputs":{"question":"hé\nyo"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var chars []string
	done := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done = true
			break
		}
		var ev api.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		chars = append(chars, ev.Char)
	}
	require.NoError(t, scanner.Err())

	assert.True(t, done)
	assert.Equal(t, []string{"h", "é", "\n", "y", "o"}, chars)
	assert.Equal(t, int64(5), env.chars.n.Load())
}

func TestWorkflowHandler_StreamFailsBeforeFirstChar(t *testing.T) {
	env := newWorkflowEnv(t)
	env.put(t, "echo", echoTemplate)

	resp := env.do(t, http.MethodPost, "/v1/workflows/echo/runs/stream", `{"inputs":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Zero(t, env.chars.n.Load())
}

func TestWorkflowHandler_Batch(t *testing.T) {
	env := newWorkflowEnv(t)
	env.put(t, "model", modelTemplate)

	body := `{"runs":[{"inputs":{"question":"a"}},{"inputs":{"question":"b"}},{"inputs":{"question":"c"}}]}`
	resp := env.do(t, http.MethodPost, "/v1/workflows/model/batch", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.BatchRunResponse
	decodeResponse(t, resp, &out)
	require.Len(t, out.Results, 3)
	assert.Equal(t, "answer: a", out.Results[0].Output)
	assert.Equal(t, "answer: b", out.Results[1].Output)
	assert.Equal(t, "answer: c", out.Results[2].Output)

	resp = env.do(t, http.MethodPost, "/v1/workflows/model/batch", `{"runs":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkflowHandler_WebSocket(t *testing.T) {
	env := newWorkflowEnv(t)
	env.put(t, "echo", echoTemplate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/workflows/echo/ws?question=ok"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var got strings.Builder
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev api.StreamEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		require.Empty(t, ev.Error)
		if ev.Done {
			break
		}
		got.WriteString(ev.Char)
	}
	assert.Equal(t, "ok", got.String())

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWorkflowHandler_WebSocketRunError(t *testing.T) {
	env := newWorkflowEnv(t)
	env.put(t, "echo", echoTemplate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/workflows/echo/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev api.StreamEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.True(t, ev.Done)
	assert.Contains(t, ev.Error, "question")

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(err))
}
