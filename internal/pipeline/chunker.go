package pipeline

import (
	"strings"
	"time"

	"resume-optimizer/internal/shared/model"
)

// chunker 合并生成的文本片段，按字数或时间间隔发出 agent_chunk
//
// 只影响推送粒度，seq 在同一步骤内从 1 递增。
// 没有订阅者时只按字数合并，不做定时刷新。
type chunker struct {
	jobID    string
	step     string
	maxChars int
	interval time.Duration
	now      func() time.Time
	live     func() bool
	emit     func(model.Event)

	buf       strings.Builder
	seq       int
	lastFlush time.Time
}

func newChunker(jobID, step string, maxChars int, interval time.Duration, now func() time.Time, live func() bool, emit func(model.Event)) *chunker {
	return &chunker{
		live:      live,
		jobID:     jobID,
		step:      step,
		maxChars:  maxChars,
		interval:  interval,
		now:       now,
		emit:      emit,
		lastFlush: now(),
	}
}

func (c *chunker) write(text string) {
	if text == "" {
		return
	}
	c.buf.WriteString(text)
	if c.buf.Len() >= c.maxChars {
		c.flush()
		return
	}
	if c.now().Sub(c.lastFlush) >= c.interval && c.live() {
		c.flush()
	}
}

// flush 发出缓冲中的文本，步骤结束时必须调用
func (c *chunker) flush() {
	c.lastFlush = c.now()
	if c.buf.Len() == 0 {
		return
	}
	c.seq++
	c.emit(model.NewAgentChunk(c.jobID, c.step, c.seq, c.buf.String()))
	c.buf.Reset()
}
