package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Job 一次简历优化请求
type Job struct {
	ID             string `json:"job_id"`
	ClientID       string `json:"client_id"`
	ApplicationID  string `json:"application_id,omitempty"`
	JobDescription string `json:"job_description"`
	Resume         string `json:"resume"`
}

// Step 流水线中的一个生成步骤
type Step struct {
	Name   string
	Agent  string
	System string
	// Prompt 由作业和之前步骤的输出构造提示词
	Prompt func(job Job, outputs map[string]string) string
}

// DefaultSteps 内置步骤
var DefaultSteps = map[string]Step{
	"analyzing": {
		Name:   "analyzing",
		Agent:  "analyst",
		System: "You are a recruiter analysing a job description. List the must-have skills, nice-to-haves, seniority signals and keywords an applicant tracking system will look for.",
		Prompt: func(job Job, _ map[string]string) string {
			return "Job description:\n\n" + job.JobDescription
		},
	},
	"rewriting": {
		Name:   "rewriting",
		Agent:  "writer",
		System: "You rewrite resumes to target a specific role. Keep every fact truthful, reorder and reword to surface the most relevant experience, and use the role's vocabulary.",
		Prompt: func(job Job, out map[string]string) string {
			return "Role analysis:\n\n" + out["analyzing"] + "\n\nOriginal resume:\n\n" + job.Resume
		},
	},
	"validating": {
		Name:   "validating",
		Agent:  "reviewer",
		System: "You check a rewritten resume against the original for invented facts, inconsistent dates and formatting problems. End your answer with a line 'SCORE: <0..1>' and list each issue on its own line starting with '- '.",
		Prompt: func(job Job, out map[string]string) string {
			return "Original resume:\n\n" + job.Resume + "\n\nRewritten resume:\n\n" + out["rewriting"]
		},
	},
	"polishing": {
		Name:   "polishing",
		Agent:  "editor",
		System: "You polish resume wording: active voice, quantified results, consistent tense. Return only the final resume.",
		Prompt: func(_ Job, out map[string]string) string {
			return "Resume:\n\n" + out["rewriting"] + "\n\nReviewer notes:\n\n" + out["validating"]
		},
	},
}

// resolveSteps 按名称取步骤，未知名称使用通用提示词
func resolveSteps(names []string) []Step {
	steps := make([]Step, 0, len(names))
	for _, name := range names {
		if s, ok := DefaultSteps[name]; ok {
			steps = append(steps, s)
			continue
		}
		steps = append(steps, Step{
			Name:   name,
			Agent:  name,
			System: fmt.Sprintf("You are the %s stage of a resume optimization pipeline.", name),
			Prompt: func(job Job, out map[string]string) string {
				return "Job description:\n\n" + job.JobDescription + "\n\nResume:\n\n" + job.Resume
			},
		})
	}
	return steps
}

// validationPassScore 校验通过的最低分
const validationPassScore = 0.7

// parseValidation 从校验步骤输出中解析分数和问题列表
//
// 没有 SCORE 行时 ok=false。
func parseValidation(text string) (score float64, issues []string, ok bool) {
	issues = []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "SCORE:"):
			v, err := strconv.ParseFloat(strings.TrimSpace(line[len("SCORE:"):]), 64)
			if err == nil {
				score, ok = min(max(v, 0), 1), true
			}
		case strings.HasPrefix(line, "- "):
			if issue := strings.TrimSpace(line[2:]); issue != "" {
				issues = append(issues, issue)
			}
		}
	}
	return score, issues, ok
}
