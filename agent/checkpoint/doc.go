/*
Package checkpoint 定义工作流 run 的持久化快照与存储契约。

每个 run_id 在 Store 中至多保存一个 Checkpoint（最新的那个），
恢复总是从这个快照继续，不会重放半个 stage。具体后端实现见
agent/persistence。
*/
package checkpoint
