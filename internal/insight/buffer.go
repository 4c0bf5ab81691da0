package insight

import (
	"time"
	"unicode/utf8"
)

// stepBuffer 单个步骤的滚动文本缓冲
type stepBuffer struct {
	text        string
	pending     int       // 距上次提取新增的字符数
	lastExtract time.Time // 上次提取时间，首个片段到达时初始化
	lastChunk   time.Time
}

// append 追加文本，超过 limit 时丢弃最旧的内容
func (b *stepBuffer) append(text string, limit int, now time.Time) {
	if b.lastExtract.IsZero() {
		b.lastExtract = now
	}
	b.lastChunk = now
	b.pending += len(text)
	b.text = trimHead(b.text+text, limit)
}

// ready 是否同时满足时间和字数两个条件
func (b *stepBuffer) ready(now time.Time, minInterval time.Duration, minChars int) bool {
	return b.pending >= minChars && now.Sub(b.lastExtract) >= minInterval
}

// window 缓冲末尾 n 个字符
func (b *stepBuffer) window(n int) string {
	return trimHead(b.text, n)
}

func (b *stepBuffer) markExtracted(now time.Time) {
	b.pending = 0
	b.lastExtract = now
}

// trimHead 保留 s 末尾最多 n 字节，起点对齐到 rune 边界
func trimHead(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
