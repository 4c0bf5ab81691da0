package insight

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Candidate 提取出的候选洞察
type Candidate struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Extractor 洞察提取
//
// 给定指令、内容窗口和步骤类别，返回零个或多个候选洞察。
// 下游响应格式错误时应返回空列表而不是错误。
type Extractor interface {
	Extract(ctx context.Context, instruction, window, category string) ([]Candidate, error)
}

// Func 函数适配为 Extractor
type Func func(ctx context.Context, instruction, window, category string) ([]Candidate, error)

func (f Func) Extract(ctx context.Context, instruction, window, category string) ([]Candidate, error) {
	return f(ctx, instruction, window, category)
}

// RateLimited 为提取调用加上进程级速率预算
//
// 所有作业的监听器共享同一个限流器。等待被取消或超时视为一次提取失败。
type RateLimited struct {
	next    Extractor
	limiter *rate.Limiter
}

// NewRateLimited 每分钟最多 perMinute 次提取，允许 burst 次突发
func NewRateLimited(next Extractor, perMinute, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Extract(ctx context.Context, instruction, window, category string) ([]Candidate, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("extraction rate limit: %w", err)
	}
	return r.next.Extract(ctx, instruction, window, category)
}

// instructionFor 各类别的提取指令
func instructionFor(category string) string {
	focus, ok := categoryFocus[category]
	if !ok {
		focus = "anything a candidate would want to know about this stage of the work"
	}
	return "You are watching a resume optimization pipeline produce text in real time. " +
		"From the excerpt below, extract at most 3 short, concrete insights about " + focus + ". " +
		"Each insight is one sentence under 160 characters. " +
		`Reply with a JSON array of objects {"category": "` + category + `", "message": "..."} and nothing else. ` +
		"Reply with [] when the excerpt has nothing new."
}

var categoryFocus = map[string]string{
	"job_analysis":   "the role's key requirements, seniority signals and must-have skills",
	"resume_rewrite": "how the resume is being reframed to match the role",
	"validation":     "factual or formatting problems found in the rewritten resume",
	"polish":         "wording and tone improvements being applied",
}
