// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 为工作流模板存储（internal/defstore）提供 GORM 连接池。

Open 按 config.DatabaseConfig.Driver 选择方言：postgres 走 gorm.io/driver/postgres，
sqlite 走纯 Go 的 github.com/glebarez/sqlite。":memory:" 内存库被固定为单连接，
否则每个连接会看到各自独立的空库。

PoolManager 持有 *gorm.DB 与底层 *sql.DB：

  - Ping 供 /ready 探活
  - 后台 healthCheckLoop 定时探活并记录打开/空闲连接数
  - WithTransactionRetry 在死锁、序列化失败时按指数退避重试整个事务，
    defstore 的版本递增写入依赖它
  - GetStats 返回便于日志输出的连接池统计
*/
package database
