// Package anthropic 基于 Anthropic Messages API 的流式生成与洞察提取
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resume-optimizer/internal/llm"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// MessagesClient SDK 中用到的部分，*sdk.MessageService 满足该接口
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options 模型参数
type Options struct {
	Model     string
	MaxTokens int
	Pricing   llm.Pricing
}

// NewMessagesClient 用 API Key 创建 SDK 客户端
func NewMessagesClient(apiKey string) (MessagesClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages, nil
}

// Agent 流水线步骤的文本生成
type Agent struct {
	msg  MessagesClient
	opts Options
}

var _ llm.Streamer = (*Agent)(nil)

// NewAgent 创建 Agent
func NewAgent(msg MessagesClient, opts Options) (*Agent, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Agent{msg: msg, opts: opts}, nil
}

// Stream 调用 Messages.NewStreaming，逐段回调文本，结束后返回用量与费用
func (a *Agent) Stream(ctx context.Context, req llm.Request, onFragment func(text string)) (llm.Result, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = a.opts.Model
	}
	stream := a.msg.NewStreaming(ctx, buildParams(modelID, a.maxTokens(req), req.System, req.Prompt))
	defer stream.Close()

	res := llm.Result{Model: modelID}
	var text strings.Builder
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			if ev.Message.Model != "" {
				res.Model = string(ev.Message.Model)
			}
			res.InputTokens = ev.Message.Usage.InputTokens
		case sdk.ContentBlockDeltaEvent:
			delta, ok := ev.Delta.AsAny().(sdk.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			text.WriteString(delta.Text)
			if onFragment != nil {
				onFragment(delta.Text)
			}
		case sdk.MessageDeltaEvent:
			if ev.Usage.InputTokens > 0 {
				res.InputTokens = ev.Usage.InputTokens
			}
			res.OutputTokens = ev.Usage.OutputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return res, fmt.Errorf("anthropic stream: %w", err)
	}

	res.Text = text.String()
	res.TotalChars = len(res.Text)
	res.Cost = a.opts.Pricing.Cost(res.InputTokens, res.OutputTokens)
	return res, nil
}

func (a *Agent) maxTokens(req llm.Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return a.opts.MaxTokens
}

func buildParams(modelID string, maxTokens int, system, prompt string) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Model:     sdk.Model(modelID),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	return params
}
