// Package ai 实现浏览器自动化客户端的 AI 请求编排层。
//
// 编排器接收带动作标签的请求，决定尝试哪些推理后端（本地文本、
// 本地视觉、云端），通过准入队列限制并发，用熔断器隔离故障后端，
// 对同质请求做机会性批处理，并返回带路由元数据的统一结果。
//
// 子包划分：
//   - queue          准入队列（并发上限 + 优先级排序）
//   - circuitbreaker 按后端 key 的熔断器
//   - batch          时间/容量双触发的批处理器
//   - retry          统一重试策略
//   - cache          确定性请求的响应缓存（Redis）
//   - store          请求用量日志（sqlite）
//   - providers      本地（Ollama 协议）与云端（OpenAI 兼容）客户端
package ai
