// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 HTTP 服务器生命周期：非阻塞启动、上下文或信号驱动的
优雅关闭，以及异步错误传播。

  - Manager：封装 net/http.Server 与 net.Listener，提供
    Start/Run/Shutdown/WaitForShutdown。
  - Config：监听地址与超时配置，FromServerConfig 从 config.ServerConfig 构造。

Addr 在启动后返回实际监听地址，":0" 随机端口可直接用于测试。
*/
package server
