// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理工作流模板表的 Schema 版本，基于 golang-migrate 实现，
支持 PostgreSQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌，文件名遵循
000001_name.up.sql / 000001_name.down.sql。迁移器运行在连接池已有的
*sql.DB 之上，不接管其生命周期，因此 ":memory:" SQLite 库在迁移后
仍保留建好的表。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Force、Version、Status、Info。
  - Config：方言、迁移表名与锁超时。
  - CLI：flowrun migrate 子命令的格式化输出。
  - NewMigratorFromPool / MigrateUp：从 database.PoolManager 创建迁移器。
*/
package migration
