// Package config 提供编排服务的配置加载与路由开关快照。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量。
package config
