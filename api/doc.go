// Package api 定义 ReportFlow HTTP API 的请求与响应类型。
//
// # API Overview
//
// ReportFlow 暴露 RESTful 接口：
//   - POST   /api/v1/runs               启动 run（按意图路由到 report 或 chat）
//   - POST   /api/v1/runs/{id}/resume   投递审批决策
//   - GET    /api/v1/runs/{id}          查询检查点与待处理审批
//   - DELETE /api/v1/runs/{id}          取消 run
//   - GET    /api/v1/runs/{id}/events   SSE 进度事件
//   - GET    /api/v1/runs/{id}/ws       WebSocket 进度事件
//   - GET    /api/v1/approvals          待处理审批队列
//   - POST   /api/v1/documents          证据文档入库
//   - GET    /api/v1/records/{id}       报告记录
//
// # Authentication
//
// 配置了 API Key 时通过 X-API-Key 头认证；配置了 JWT 时使用 Bearer token，
// token 中的 user_id 作为审批人身份的缺省值。
//
// # Generating Documentation
//
//	swag init -g cmd/reportflow/main.go -o api --parseDependency --parseInternal
package api
