// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 flowrun 的配置加载。
//
// 配置优先级: 默认值 → YAML 文件 → .env 文件 → 环境变量。
// 环境变量按 env 标签拼接前缀（默认 FLOWRUN，例如 FLOWRUN_CHAT_API_KEY），
// 同时兼容不带前缀的 CHAT_*、EMBEDDING_*、DEBUG 旧键。
package config
