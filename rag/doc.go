// Copyright 2025-2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 为报告工作流提供证据检索。

检索对编排器来说是外部协作者：gather stage 通过 Retriever 接口取回
EvidenceSet，检索失败时降级为空集合，由后续 stage 决定如何处理。
本包同时提供一套可替换的默认实现，用于单机部署与测试。

# 核心接口/类型

  - Retriever：多查询检索接口，返回 EvidenceSet
  - VectorStore：向量存储接口（Upsert / Search / Delete / Count）
  - Embedder：文本向量化接口
  - Tokenizer：分块使用的 token 计数接口

# 主要能力

  - 文档分块：段落/句子边界优先的递归分块，带重叠（DocumentChunker）
  - 文档入库：分块、向量化、写入向量存储（Indexer）
  - 多查询检索：errgroup 并发查询、按文档去重、按分数截断（MultiQueryRetriever）
  - 向量存储：内存实现与 Qdrant REST 实现
  - HashEmbedder：无需外部模型的确定性特征哈希向量
*/
package rag
