/*
Package testutil 提供 ReportFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel，
    用于等待事件总线投递、后台恢复等异步结果
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: MockProvider（llm.Provider），支持固定响应、
    错误注入、第 N 次调用后失败与调用记录

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse(`{"intent":"Report","confidence":0.9}`)
	cls, err := supervisor.NewLLMClassifier(provider, "", nil).Classify(ctx, "q3 churn report")
*/
package testutil
