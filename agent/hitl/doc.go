// Package hitl 提供 Human-in-the-Loop 工作流中断与恢复能力。
//
// 在 gate 处挂起时，Controller 持久化检查点与审批请求后立即返回，
// 不占用任何 goroutine；之后 Claim 消费审批请求并把决策合并进上下文。
// 同一审批请求的并发恢复只有一个会成功，其余得到 StaleResumeError。
package hitl
