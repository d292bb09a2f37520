// Package report 提供两个内置工作流：
//
//   - report：extract → plan → plan_approval → gather → compose →
//     record_approval → commit，证据检索 + 起草 + 两道人工审批 + 落库；
//   - chat：单 stage 的闲聊回复，不挂起。
//
// 检索、生成、落库都通过接口注入（rag.Retriever、Generator、records.Store），
// 工作流本身只负责把它们串成可挂起、可恢复的 stage 图。
package report
