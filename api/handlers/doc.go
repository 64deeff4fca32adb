// Package handlers 提供编排服务的 HTTP 处理器。
//
// 包含请求处理、健康检查与统计端点，以及统一的响应信封。
package handlers
