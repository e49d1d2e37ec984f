// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 flowrun HTTP API 的请求处理器。

# 核心类型

  - WorkflowHandler：模板的保存、查询、删除，以及同步、SSE、批量与
    websocket 四种运行方式
  - HealthHandler：/health、/healthz、/ready 与 /version
  - PingCheck：基于 ping 函数的可插拔就绪检查
  - Response / ErrorInfo：统一 JSON 响应结构
  - ResponseWriter：捕获状态码的 http.ResponseWriter 包装

# 路由

	GET    /v1/workflows
	PUT    /v1/workflows/{name}              保存前先解析并编译
	GET    /v1/workflows/{name}
	DELETE /v1/workflows/{name}
	POST   /v1/workflows/{name}/runs         返回完整结果
	POST   /v1/workflows/{name}/runs/stream  每字符一条 SSE 事件，以 [DONE] 结束
	POST   /v1/workflows/{name}/batch
	GET    /v1/workflows/{name}/ws           查询参数作为种子

types.Error 的错误码映射到 HTTP 状态：结构与引用错误为 400，类型错误为 422，
NOT_FOUND 为 404，外部服务失败为 502。
*/
package handlers
