// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、工作流运行、
LLM 调用、提示词缓存与模板存储。

# 核心类型

  - Collector：指标收集器，实现 workflow.MetricsRecorder 与
    llm.CallRecorder，由 cmd/flowrun 注入执行器与 ChatModel。

# 主要能力

  - 工作流指标：运行总数与耗时（按 status）、每次运行的步数、
    节点执行总数与耗时（按 kind/status）、流式推送字符数。
  - LLM 指标：请求总数、请求耗时、Token 用量（prompt/completion），
    按 provider/model 分组。
  - HTTP 指标：状态码归类为 2xx/3xx/4xx/5xx。
  - 缓存与数据库指标。

NewCollector 接受 prometheus.Registerer，测试中传入独立的 Registry。
*/
package metrics
