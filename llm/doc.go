// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供统一的大语言模型接入层：Provider 抽象、错误语义，以及
供报告工作流使用的 ProviderGenerator。

# 概述

工作流中的生成、规划与意图分类都通过 Provider 接口调用模型。具体的
HTTP 适配在 providers 子包中，token 计数与截断在 tokenizer 子包中。

# 核心接口

  - Provider：Completion / HealthCheck / Name
  - Error：带错误码、HTTP 状态与可重试标记的统一错误

# 生成

ProviderGenerator 把 prompt 与检索上下文组装成聊天请求，上下文按
ContextBudget 截断，返回第一个 choice 的文本：

	gen := llm.NewProviderGenerator(provider, nil, llm.GeneratorConfig{
	    Model:         "gpt-4o-mini",
	    ContextBudget: 6000,
	}, logger)
	text, err := gen.Generate(ctx, "Summarize the findings.", evidence)
*/
package llm
