// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，目前用于缓存意图分类结果。

# 核心类型

  - Manager：缓存管理器，共享调用方的 Redis 客户端，提供 Get/Set/Delete
    以及 GetJSON/SetJSON 便捷序列化方法，后台定时 Ping 检测连接。
  - Config：键前缀、默认 TTL 与健康检查间隔。
  - Stats：本进程观察到的命中/未命中次数。

# 错误语义

未命中返回 ErrCacheMiss（用 IsCacheMiss 判断），关闭后的调用返回 ErrClosed。
*/
package cache
