// Package llm 模型调用的公共类型
package llm

import "context"

// Request 一次生成请求
type Request struct {
	System    string
	Prompt    string
	Model     string // 为空时使用默认模型
	MaxTokens int
}

// Result 一次生成完成后的汇总
type Result struct {
	Text         string
	TotalChars   int
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64 // 美元
}

// Streamer 流式生成，每收到一段文本调用一次 onFragment
type Streamer interface {
	Stream(ctx context.Context, req Request, onFragment func(text string)) (Result, error)
}

// Pricing 每百万 token 的价格（美元）
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Cost 按 token 用量计算费用
func (p Pricing) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)*p.InputPerM/1e6 + float64(outputTokens)*p.OutputPerM/1e6
}
