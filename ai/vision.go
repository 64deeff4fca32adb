package ai

import (
	"context"

	"go.uber.org/zap"
)

// handleVision 视觉分析处理链
// 视觉分析只走本地视觉后端，失败直接上报，不降级到云端
func (o *Orchestrator) handleVision(ctx context.Context, req *Request) *Response {
	md := Metadata{RoutedTo: "local", VisionEnabled: true}

	if o.localVision == nil {
		return &Response{
			Success:     false,
			Error:       "vision backend not configured",
			Metadata:    Metadata{},
			failureKind: KindProvider,
		}
	}

	images := payloadImages(req.Payload)
	goal := payloadString(req.Payload, "goal", "prompt")
	pageStructure := payloadMap(req.Payload, "page_structure")

	prompt := payloadString(req.Payload, "prompt")
	if o.promptBuilder != nil {
		prompt = o.promptBuilder.BuildPrompt(goal, pageStructure)
	}

	breq := &BackendRequest{
		Prompt: prompt,
		System: payloadString(req.Payload, "system"),
		Images: images,
	}
	if n, ok := payloadInt(req.Payload, "max_tokens"); ok {
		breq.MaxTokens = n
	}

	bresp, err := o.callBackend(ctx, KeyLocalModel, o.localVision, breq, req.Priority)
	md.ProvidersTried = []string{o.localVision.Name()}
	if err != nil {
		return &Response{Success: false, Error: err.Error(), Metadata: md, failureKind: KindOf(err)}
	}
	md.Model = bresp.Model

	resp := &Response{Success: true, Content: bresp.Content, Metadata: md}
	if o.parser != nil {
		data, perr := o.parser.Parse(bresp.Content)
		if perr != nil {
			// 原始文本仍然返回，结构化数据置空
			o.logger.Debug("视觉响应解析失败", zap.Error(perr))
			resp.Metadata.ParsedSuccessfully = false
			return resp
		}
		resp.Data = data
		resp.Metadata.ParsedSuccessfully = true
	}
	return resp
}
