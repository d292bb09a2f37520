// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 ReportFlow 的 SQL schema：workflow_checkpoints、
workflow_approvals 与 report_records 三张表。

迁移文件按方言（postgres/mysql/sqlite）内嵌在 migrations/ 下，
由 golang-migrate 执行。sqlite 使用纯 Go 驱动，不需要 cgo。

# 核心类型

  - Migrator：Up/Down/Steps/Goto/Force/Version/Status/Verify
  - Verify：检查 Tables 是否都已存在，也用于 sql 存储启动时的检查
  - CLI：reportflow migrate 子命令的终端输出
*/
package migration
