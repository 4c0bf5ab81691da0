package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load 加载配置
//  1. 加载 .env.{env} / .env（敏感信息 + APP_ENV）
//  2. 默认值 → common.yaml → {env}.yaml
//  3. 环境变量覆盖
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)
	// .env 中可能才定义 APP_ENV
	env = parseEnv(getEnv("APP_ENV", string(env)))

	yamlCfg, loadedFrom := loadYAMLConfig(env)
	return build(env, yamlCfg, loadedFrom)
}

// build 从 YAML 与环境变量构建最终配置
func build(env Environment, y *YAMLConfig, loadedFrom string) *Config {
	y.Database.Password = getEnv("DB_PASSWORD", y.Database.Password)
	y.LLM.APIKey = getEnv("ANTHROPIC_API_KEY", y.LLM.APIKey)
	y.Auth.JWTSecret = getEnv("JWT_SECRET", y.Auth.JWTSecret)
	y.Archive.AccessKey = firstEnv("MINIO_ACCESS_KEY", "MINIO_ROOT_USER")
	y.Archive.SecretKey = firstEnv("MINIO_SECRET_KEY", "MINIO_ROOT_PASSWORD")
	if port := os.Getenv("PORT"); port != "" {
		y.Server.Port = port
	}

	databaseURL := os.Getenv("DATABASE_URL")
	driver := detectDatabaseDriver(y.Database.Driver, databaseURL)
	y.Database.Driver = driver
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(y.Database, y.Database.Password)
	}

	cfg := &Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		DatabaseDBName: y.Database.Name,
		Server:         y.Server,
		Database:       y.Database,
		Stream:         y.Stream,
		Insight:        y.Insight,
		Pipeline:       y.Pipeline,
		Transport:      y.Transport,
		LLM:            y.LLM,
		Auth:           y.Auth,
		Archive:        y.Archive,
		ConfigFilePath: loadedFrom,
	}
	cfg.applyDefaults()
	return cfg
}

// Defaults 返回只含默认值的 YAML 配置
func Defaults() *YAMLConfig {
	return &YAMLConfig{
		Server:   ServerConfig{Port: "8080", ShutdownTimeout: 10 * time.Second},
		Database: DatabaseConfig{Driver: "sqlite", Path: "data/resume-optimizer.db", Host: "localhost", Port: 5432, User: "resume", Name: "resume_optimizer", SSLMode: "disable"},
		Stream: StreamConfig{
			HistorySize:     500,
			SubscriberQueue: 1000,
			IngestQueue:     4096,
			RecentChunks:    50,
			RecentInsights:  20,
			Retention:       10 * time.Minute,
			SweepInterval:   time.Minute,
		},
		Insight: InsightConfig{
			Enabled:        true,
			MinInterval:    3 * time.Second,
			MinChars:       800,
			WindowChars:    1500,
			BufferChars:    8000,
			DedupSize:      256,
			IdleSweep:      30 * time.Second,
			StaleAfter:     5 * time.Minute,
			ExtractTimeout: 30 * time.Second,
			RatePerMinute:  60,
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			Steps:             []string{"analyzing", "rewriting", "validating", "polishing"},
			ChunkChars:        100,
			ChunkInterval:     250 * time.Millisecond,
			HeartbeatInterval: 10 * time.Second,
			JobTimeout:        10 * time.Minute,
		},
		Transport: TransportConfig{KeepAlive: 15 * time.Second, MinFrameBytes: 2048, WriteTimeout: 10 * time.Second},
		LLM: LLMConfig{
			Model:           "claude-sonnet-4-5",
			InsightModel:    "claude-haiku-4-5",
			MaxTokens:       4096,
			InputPricePerM:  3,
			OutputPricePerM: 15,
		},
		Auth:    AuthConfig{Issuer: "resume-optimizer"},
		Archive: ArchiveConfig{Endpoint: "localhost:9000", Bucket: "resume-events"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) (*YAMLConfig, string) {
	cfg := Defaults()
	loadedFrom := ""

	for _, base := range effectiveConfigPaths(env) {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.Printf("[Config] WARNING: invalid %s: %v", path, err)
			}
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths(env) {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.Printf("[Config] WARNING: invalid %s: %v", path, err)
			}
			loadedFrom = path
			break
		}
	}

	return cfg, loadedFrom
}

// applyDefaults 将非法或缺失的数值回填为默认值
func (c *Config) applyDefaults() {
	d := Defaults()
	if c.Server.Port == "" {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Stream.HistorySize <= 0 {
		c.Stream.HistorySize = d.Stream.HistorySize
	}
	if c.Stream.SubscriberQueue <= 0 {
		c.Stream.SubscriberQueue = d.Stream.SubscriberQueue
	}
	if c.Stream.IngestQueue <= 0 {
		c.Stream.IngestQueue = d.Stream.IngestQueue
	}
	if c.Stream.Retention <= 0 {
		c.Stream.Retention = d.Stream.Retention
	}
	if c.Stream.SweepInterval <= 0 {
		c.Stream.SweepInterval = d.Stream.SweepInterval
	}
	if c.Insight.MinInterval <= 0 {
		c.Insight.MinInterval = d.Insight.MinInterval
	}
	if c.Insight.MinChars <= 0 {
		c.Insight.MinChars = d.Insight.MinChars
	}
	if c.Insight.WindowChars <= 0 {
		c.Insight.WindowChars = d.Insight.WindowChars
	}
	if c.Insight.BufferChars < c.Insight.WindowChars {
		c.Insight.BufferChars = max(d.Insight.BufferChars, c.Insight.WindowChars)
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = d.Pipeline.Workers
	}
	if len(c.Pipeline.Steps) == 0 {
		c.Pipeline.Steps = d.Pipeline.Steps
	}
	if c.Transport.KeepAlive <= 0 {
		c.Transport.KeepAlive = d.Transport.KeepAlive
	}
	if c.Transport.MinFrameBytes < 0 {
		c.Transport.MinFrameBytes = 0
	}
}
