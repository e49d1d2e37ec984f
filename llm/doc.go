// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 是工作流与大语言模型之间的适配层。

# Provider 抽象

[Provider] 定义同步补全、健康检查与名称三个方法，具体实现见
llm/openaicompat。上游 HTTP 错误通过 [MapHTTPError] 统一映射为 [*Error]，
其中 Retryable 决定适配层是否重试。

# ChatModel

[ChatModel] 实现 workflow.ChatModel，ModelCall 节点经由它访问模型：

  - 节点 llmParam 覆盖 [ChatModelConfig] 中的默认参数；
  - golang.org/x/time/rate 本地限流；
  - llm/retry 指数退避，只重试 Retryable 错误；
  - 可选 [ResponseCache]（llm/cache 提供 Redis 两级实现）；
  - 通过 [CallRecorder] 记录耗时与 token 用量，上游缺失 usage 时用 llm/tokenizer 估算。

工作流核心不做任何重试，失败由执行器包装为 EXTERNAL_SERVICE，
原始 [*Error] 仍可通过 errors.As 取得。
*/
package llm
