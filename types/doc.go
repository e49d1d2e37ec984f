// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 flowrun 各层共享的基础类型，不依赖任何内部包。

# 核心类型

  - Error / ErrorCode: 结构化错误，携带节点 ID、HTTP 状态码与 Retryable 标记
  - Context 传播: WithTraceID / WithRunID / WithWorkflowName 及对应读取函数

# 错误工具

  - NewError / Errorf 构造错误，WithCause / WithNode / WithHTTPStatus 补充字段
  - AsError / IsErrorCode / IsRetryable / GetErrorCode 沿 error 链检查

Error 实现了 Is：两个 *Error 只要 Code 相同即视为匹配，
因此可以把仅含 Code 的值当作哨兵错误使用。
*/
package types
