// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供检查点与审批请求的持久化存储实现。

# 概述

每个后端通过 Checkpoints() 与 Approvals() 暴露 checkpoint.Store 和
hitl.ApprovalStore 两个视图，二者共享连接与生命周期。检查点的 PutIf
按版本号比较后写入，审批请求的 Take 是条件删除，并发调用中都只有一个
成功，这是跨进程单写者保证的基础。

# 后端实现

  - Memory: 内存实现，JSON 深拷贝，适合开发与测试，重启后数据丢失。
  - File: 每个 run 一个 JSON 文件，临时文件 + rename 原子写入，Take 通过
    rename 竞争实现；PutIf 只在进程内加锁，适合单节点部署。
  - Redis: 检查点存为字符串，PutIf 使用 WATCH/MULTI；审批请求存为 Hash，
    Take 使用 Lua 脚本比较 ID 后删除，适合分布式部署。
  - SQL: 基于 gorm，支持 postgres / mysql / sqlite，PutIf 依赖
    UPDATE ... WHERE version 的 RowsAffected，Take 依赖
    DELETE ... WHERE run_id AND approval_id 的 RowsAffected。

# 使用方式

	backend, err := persistence.NewBackend(cfg, persistence.Connections{DB: db}, logger)
	controller := hitl.NewController(backend.Checkpoints(), backend.Approvals(), bus, logger)
*/
package persistence
