// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package defstore 按名称持久化工作流模板（JSON 或 YAML 原文）。
//
// 模板保存前由调用方通过 dsl.Load 校验；每次覆盖保存版本号加一。
// 底层使用 internal/database 的 GORM 连接池，生产环境为 postgres，
// 单机与测试使用纯 Go 的 sqlite。表结构由 internal/migration 的版本化迁移维护。
package defstore
