package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"resume-optimizer/internal/insight"
)

// Extractor 用小模型从内容窗口中提取洞察
type Extractor struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

var _ insight.Extractor = (*Extractor)(nil)

// NewExtractor 创建提取器
func NewExtractor(msg MessagesClient, model string) (*Extractor, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Extractor{msg: msg, model: model, maxTokens: 512}, nil
}

// Extract 调用 Messages.New 并解析 JSON 数组
//
// 请求失败返回错误；响应无法解析时返回空列表。
func (e *Extractor) Extract(ctx context.Context, instruction, window, category string) ([]insight.Candidate, error) {
	params := buildParams(e.model, e.maxTokens, instruction, window)
	msg, err := e.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	candidates, err := parseCandidates(text.String())
	if err != nil {
		log.Printf("[Insight] Unparseable extraction response for %s: %v", category, err)
		return []insight.Candidate{}, nil
	}
	for i := range candidates {
		if candidates[i].Category == "" {
			candidates[i].Category = category
		}
	}
	return candidates, nil
}

// parseCandidates 解析模型输出，允许 markdown 代码块包裹和前后说明文字
func parseCandidates(raw string) ([]insight.Candidate, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start, end := strings.Index(s, "["), strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return nil, errors.New("no JSON array in response")
	}

	var out []insight.Candidate
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, err
	}
	kept := out[:0]
	for _, c := range out {
		c.Message = strings.TrimSpace(c.Message)
		if c.Message != "" {
			kept = append(kept, c)
		}
	}
	return kept, nil
}
