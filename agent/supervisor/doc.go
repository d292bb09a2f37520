// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 supervisor 是请求入口：对用户输入做意图分类，选择要运行的工作流，
再把 run 交给 workflow.Executor。

# 核心类型

  - Classifier：意图分类接口。LLMClassifier 以 JSON 模式调用模型，
    KeywordClassifier 是确定性的关键词兜底，FallbackClassifier 串联二者，
    CachedClassifier 把分类结果缓存在 Redis 中。
  - Router：把分类结果映射到工作流。意图未知或置信度低于阈值时
    返回 *ClarificationNeeded，此时不会创建任何 run。
  - Supervisor：Handle（路由 + 启动）、Resume、Cancel、Status。

run_id 优先取请求的 session_id，使同一会话的重复提交落到同一个 run 上。
*/
package supervisor
