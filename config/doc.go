// Package config 提供 ReportFlow 的配置加载。
//
// 配置按 默认值 → YAML 文件 → 环境变量（REPORTFLOW_ 前缀）的顺序叠加，
// 加载后由 Validate 统一校验。
package config
