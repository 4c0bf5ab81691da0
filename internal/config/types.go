// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml 覆盖 common.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥（ANTHROPIC_API_KEY、JWT_SECRET、DB_PASSWORD、MinIO 凭据）只存在 .env 或环境变量中，
//	YAML 中不存储任何密钥。
//
// 配置路径确定策略：
//  1. SetConfigDir 指定的目录（--config 命令行参数）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/resume-optimizer/
//     - dev/test → ./configs/
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Stream    StreamConfig    `yaml:"stream"`
	Insight   InsightConfig   `yaml:"insight"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Transport TransportConfig `yaml:"transport"`
	LLM       LLMConfig       `yaml:"llm"`
	Auth      AuthConfig      `yaml:"auth"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig 作业存储配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite"（默认）, "postgres", "mongodb", "redis", "memory"
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB / Redis 连接 URI（优先于 host/port）
}

// StreamConfig 流管理器配置
type StreamConfig struct {
	HistorySize     int           `yaml:"history_size"`     // 每个作业在内存中保留的最近事件数
	SubscriberQueue int           `yaml:"subscriber_queue"` // 每个订阅者的实时队列容量
	IngestQueue     int           `yaml:"ingest_queue"`     // 跨协程投递队列容量
	RecentChunks    int           `yaml:"recent_chunks"`    // 快照中保留的最近 agent_chunk 数
	RecentInsights  int           `yaml:"recent_insights"`  // 快照中保留的最近 insight 数
	Retention       time.Duration `yaml:"retention"`        // 作业结束后在内存中保留的时长
	SweepInterval   time.Duration `yaml:"sweep_interval"`   // 清理结束作业的间隔
}

// InsightConfig 洞察监听器配置
type InsightConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MinInterval    time.Duration `yaml:"min_interval"`
	MinChars       int           `yaml:"min_chars"`
	WindowChars    int           `yaml:"window_chars"`
	BufferChars    int           `yaml:"buffer_chars"`
	DedupSize      int           `yaml:"dedup_size"`
	IdleSweep      time.Duration `yaml:"idle_sweep"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
	RatePerMinute  int           `yaml:"rate_per_minute"` // 进程级提取调用预算，0 表示不限制
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	Workers           int           `yaml:"workers"`
	Steps             []string      `yaml:"steps"`
	ChunkChars        int           `yaml:"chunk_chars"`
	ChunkInterval     time.Duration `yaml:"chunk_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
}

// TransportConfig 推送通道配置
type TransportConfig struct {
	KeepAlive     time.Duration `yaml:"keepalive"`
	MinFrameBytes int           `yaml:"min_frame_bytes"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// LLMConfig 模型调用配置
type LLMConfig struct {
	APIKey          string  `yaml:"-"` // 只从 ANTHROPIC_API_KEY 环境变量读取
	Model           string  `yaml:"model"`
	InsightModel    string  `yaml:"insight_model"`
	MaxTokens       int     `yaml:"max_tokens"`
	InputPricePerM  float64 `yaml:"input_price_per_m"`
	OutputPricePerM float64 `yaml:"output_price_per_m"`
}

// AuthConfig 认证配置
// JWTSecret 为空时关闭认证，所有请求的 client_id 为 "anonymous"
type AuthConfig struct {
	JWTSecret string `yaml:"-"` // 只从 JWT_SECRET 环境变量读取
	Issuer    string `yaml:"issuer"`
}

// ArchiveConfig 作业结束后的事件日志归档（MinIO）
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ACCESS_KEY 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_SECRET_KEY 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // 经过检测后的驱动类型
	DatabaseURL    string // 驱动连接串
	DatabaseDBName string // MongoDB 数据库名称
	Server         ServerConfig
	Database       DatabaseConfig
	Stream         StreamConfig
	Insight        InsightConfig
	Pipeline       PipelineConfig
	Transport      TransportConfig
	LLM            LLMConfig
	Auth           AuthConfig
	Archive        ArchiveConfig
	ConfigFilePath string // 实际加载的 {env}.yaml 路径
}
