// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、工作流、
路由、LLM、缓存与数据库。

# 概述

Collector 通过 promauto 注册到默认 Registry，所有指标按 namespace
隔离。它实现 workflow.Observer，执行器在每个阶段、挂起、恢复和
编辑循环处回调；llm.InstrumentedProvider 与 database.PoolManager
分别通过 RecordLLMRequest、RecordDBConnections 上报。

# 主要能力

  - HTTP 指标：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：运行开始/结束、阶段耗时与失败、瞬时重试、审批挂起、
    恢复动作、过期恢复请求、编辑循环（含达到上限）。
  - 路由指标：按意图计数，以及需要澄清的请求数。
  - LLM 指标：请求数、耗时、prompt/completion Token 用量。
  - 事件流：订阅者队列满时丢弃的事件总数（CounterFunc）。
  - 缓存与数据库：命中/未命中计数，活跃/空闲连接 Gauge。
*/
package metrics
