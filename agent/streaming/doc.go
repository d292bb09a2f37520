// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 streaming 提供工作流 run 的进度事件总线与推送适配器。

# 概述

Bus 为每个 run 维护一个有界队列。Publish 永不阻塞执行器：
没有订阅者时事件被静默丢弃，队列满时丢弃最新事件并计数。
同一 run 同时至多一个订阅者，run 内事件保持发布顺序。

# 推送方式

  - WriteSSE：text/event-stream
  - WebSocketSink：基于 github.com/coder/websocket，写操作通过 mutex 保护

订阅者看到 interrupt / completed / cancelled / failed 事件后应断开。
*/
package streaming
