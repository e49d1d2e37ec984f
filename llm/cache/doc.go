// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供 LLM 响应的两级缓存：本地 LRU 作为 L1，Redis（经
internal/cache.Manager）作为 L2。相同的模型、消息与采样参数命中同一条目，
TraceID 与超时不参与键计算。

PromptCache 实现 llm.ResponseCache，可直接交给 llm.ChatModel 使用。
*/
package cache
