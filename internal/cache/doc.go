// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，供 LLM 响应缓存等上层组件复用。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Delete/Ping 以及
    GetJSON/SetJSON 便捷序列化方法；所有键自动加上 KeyPrefix。
  - Config：地址、密码、库号、键前缀、默认 TTL、连接池与健康检查间隔。
  - Stats：进程内命中/未命中计数与命中率。

# 错误语义

未命中返回 ErrCacheMiss（可用 IsCacheMiss 判断），关闭后的调用返回 ErrClosed。
*/
package cache
