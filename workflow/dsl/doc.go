// Package dsl 解析 JSON/YAML 工作流模板（节点类型编码、inputParameters、
// branches、sourcePortID、versions），校验后构建为 workflow.Graph。
package dsl
