// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 reportflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、agent、
api 等上层模块提供统一的错误与上下文约定。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、RunID 标记
  - Context 传播：WithRequestID / WithUserID / WithRunID
*/
package types
