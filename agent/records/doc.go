// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package records 保存审批通过后提交的报告记录。

工作流只依赖 Store 接口：CreateRecord 返回记录 ID，失败时报告流程以
saved=false 结束，不会中断 run。GormStore 落到关系型数据库，
MemoryStore 用于测试与单机部署。
*/
package records
