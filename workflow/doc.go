// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供可持久化的 Human-in-the-Loop 工作流执行引擎。

# 概述

Graph 是一组按声明顺序执行的 stage，最后一个 stage 为终态，其中一些
stage 被标记为 HITL gate。Executor 驱动 run 穿过 Graph：每个 stage
完成后先写检查点再继续；到达 gate 时持久化审批请求并返回 Suspended，
不占用任何 goroutine；之后由独立的 Resume 入口带着人工决策继续。

# 核心类型

  - Graph / Builder：stage 声明、字段所有权与 gate 转移校验
  - Stage / Gate：普通 stage、HITL gate 与终态 stage
  - Executor：Start / Resume / Cancel / Status / Recover
  - EditLoop：有界编辑循环（窄：只重跑 gate 前一个 stage；宽：从 LoopStart 重跑）
  - Result：completed / suspended / failed / aborted / cancelled
  - Observer：指标回调，由 internal/metrics 实现

# 不变量

  - 每个 stage 只能写自己声明的 Outputs，保留字段由执行器和控制器持有
  - 检查点写入失败时 stage 的输出被丢弃，stage 与写入作为整体重试
  - StageIndex 永不回退；编辑循环的进度记录在 Checkpoint.Loop 中
  - 同一审批请求的并发恢复只有一个成功，其余得到 StaleResumeError
*/
package workflow
