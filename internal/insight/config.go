package insight

import "time"

// Config 监听器参数
type Config struct {
	MinInterval    time.Duration // 同一步骤两次提取的最小间隔
	MinChars       int           // 距上次提取新增的最少字符数
	WindowChars    int           // 提取时取缓冲末尾的字符数
	BufferChars    int           // 每个步骤滚动缓冲的上限
	DedupSize      int           // 去重 LRU 容量
	IdleSweep      time.Duration // 空闲多久触发一次清扫
	StaleAfter     time.Duration // 步骤多久没有新片段视为废弃
	ExtractTimeout time.Duration
	Namespace      string
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		MinInterval:    3 * time.Second,
		MinChars:       800,
		WindowChars:    1500,
		BufferChars:    8000,
		DedupSize:      256,
		IdleSweep:      30 * time.Second,
		StaleAfter:     5 * time.Minute,
		ExtractTimeout: 30 * time.Second,
		Namespace:      "resume",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MinChars <= 0 {
		c.MinChars = d.MinChars
	}
	if c.WindowChars <= 0 {
		c.WindowChars = d.WindowChars
	}
	if c.BufferChars < c.WindowChars {
		c.BufferChars = max(d.BufferChars, c.WindowChars)
	}
	if c.DedupSize <= 0 {
		c.DedupSize = d.DedupSize
	}
	if c.IdleSweep <= 0 {
		c.IdleSweep = d.IdleSweep
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = d.ExtractTimeout
	}
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	return c
}

// Clock 时间来源，测试中注入假时钟
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 真实时钟
var SystemClock Clock = systemClock{}
