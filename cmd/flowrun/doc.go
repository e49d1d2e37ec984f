// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
flowrun 是工作流执行服务的命令行入口。

子命令：

	serve         启动 HTTP 服务（模板管理、运行、SSE 与 WebSocket 流式输出）
	run           从模板文件执行一次工作流并打印结果
	validate      解析并编译模板，不执行
	migrate       模板表版本迁移：up、down、status、version、force
	health        请求运行中服务的 /health 端点
	version       打印版本信息

配置通过 --config 指定的 YAML 文件与 FLOWRUN_ 前缀的环境变量加载。
*/
package main
