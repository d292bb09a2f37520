// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ReportFlow 服务端程序入口。

# 概述

cmd/reportflow 装配运行存储、审批控制器、工作流执行器与意图路由，
对外提供 run 生命周期 API、审批队列、证据文档入库和报告记录查询。
另有数据库迁移、健康检查和版本查询子命令。

# 核心类型

  - Server：主服务器，管理 API 与 Metrics 双端口、后台恢复与过期清扫
  - components：按配置装配的存储、事件总线、执行器、检索与分类器
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate（up/down/steps/goto/force/status/version/verify/reset）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、Metrics、
    RequestLogger、CORS、StreamShutdown、JWTAuth 或 APIKeyAuth、RateLimiter（按用户，缺省按 IP）
  - 存储后端：memory、file、redis、sql，由 store.type 选择
  - 未配置 LLM 时报告由检索到的证据直接拼装，分类退回关键词匹配
  - 启动时恢复未完成的 run，定期取消超过 approval_ttl 的挂起 run
  - 优雅关闭：信号监听 → 结束事件流 → 关闭 HTTP → 关闭 Metrics → 释放连接 → 刷新 telemetry
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
