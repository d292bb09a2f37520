// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ReportFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现 run 生命周期、审批队列、证据文档、报告记录与健康检查的
HTTP 端点。所有 Handler 遵循标准 net/http 接口，路由使用 Go 1.22 的
ServeMux 模式（"POST /api/v1/runs/{id}/resume"），通过 Swagger 注解生成文档。

# 核心类型

  - RunHandler：启动、恢复、取消、查询 run；SSE 与 WebSocket 进度订阅
  - ApprovalHandler：待处理审批队列，可按 gate 类型过滤
  - DocumentHandler：证据文档入库
  - RecordHandler：已提交报告记录查询
  - HealthHandler：存活、就绪（并发执行 PingCheck）与版本端点
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable、run_id

# 错误映射

ErrorFrom 把各包的哨兵错误转换为 types.Error：过期或重复的恢复请求为
409 STALE_RESUME，意图不明确为 422 CLARIFICATION_NEEDED，瞬时故障重试耗尽
为 503 且 retryable=true。

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 每个 run 只允许一个事件订阅者，第二个订阅返回 409
  - 就绪检查只包含启用的依赖：运行存储、数据库、Redis、Qdrant
*/
package handlers
