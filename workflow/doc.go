// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供声明式工作流图的执行引擎。

# 概述

workflow 包把一张由节点和边组成的有向图当作类型化状态机来执行：
从唯一的 Start 节点出发，逐个调用节点处理器，按路由表前进，
直到唯一的 End 节点产出最终结果，并以逐字符流的形式交付。

# 核心接口与类型

  - Graph / Node / Edge: 不可变的图模型，构建时即完成结构校验
  - NodeConfig: 按节点种类区分的配置（Start、End、ModelCall、
    KnowledgeRetrieval、Condition）
  - ValueRef: 输入槽来源：LiteralRef 或 OutputRef
  - OutputStore: 单次运行内只追加的节点输出记录
  - RoutingTable: Compile 生成的路由表（无条件后继 / 分支标签）
  - Executor: 运行循环，步数上限为 2 × 节点数
  - CharStream: 最终输出的一次性逐字符流
  - ChatModel / Retriever: 外部协作者接口，由调用方注入

# 主要能力

  - 错误分类：STRUCTURAL、UNRESOLVED_REFERENCE、TYPE_MISMATCH、
    DUPLICATE_OUTPUT、EXTERNAL_SERVICE、RECURSION_LIMIT（见 types.Error）
  - 条件分支：equals / notEquals / lengthGreaterThan / lengthLessThan，
    首个满足的条件组走 "true"，否则走 "false"
  - 观测：zap 日志、OpenTelemetry span、MetricsRecorder、StreamEmitter 事件、
    ExecutionHistory 执行轨迹
  - 并发：同一 Executor 可并发执行多次运行，RunBatch 基于 errgroup
*/
package workflow
