// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package api 定义 flowrun HTTP 接口的请求与响应类型。

# 核心类型

  - TemplateInfo / TemplateDetail：已保存的工作流模板
  - RunRequest / BatchRunRequest：运行的种子输入
  - RunResponse / BatchRunResponse：运行结果
  - StreamEvent：websocket 流式输出帧

处理器实现在 api/handlers 子包中。
*/
package api
