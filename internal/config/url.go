package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// buildDatabaseURL 根据驱动类型构建连接字符串
func buildDatabaseURL(db DatabaseConfig, password string) string {
	switch strings.ToLower(db.Driver) {
	case "sqlite":
		dbPath := db.Path
		if dbPath == "" {
			dbPath = "data/resume-optimizer.db"
		}
		return fmt.Sprintf("file:%s?cache=shared&mode=rwc", dbPath)
	case "mongodb":
		if db.URI != "" {
			return db.URI
		}
		if db.User != "" && password != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%d", db.User, password, db.Host, db.Port)
		}
		return fmt.Sprintf("mongodb://%s:%d", db.Host, db.Port)
	case "redis":
		if db.URI != "" {
			return db.URI
		}
		if password != "" {
			return fmt.Sprintf("redis://:%s@%s:%d/0", password, db.Host, db.Port)
		}
		return fmt.Sprintf("redis://%s:%d/0", db.Host, db.Port)
	case "memory":
		return ""
	default: // postgres
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			db.User, password, db.Host, db.Port, db.Name, db.SSLMode)
	}
}

// detectDatabaseDriver 检测存储驱动类型
// 优先级：YAML driver 字段 > DATABASE_URL 前缀自动检测 > 默认 sqlite
func detectDatabaseDriver(yamlDriver, databaseURL string) string {
	switch d := strings.ToLower(yamlDriver); d {
	case "sqlite", "postgres", "mongodb", "redis", "memory":
		return d
	}
	switch {
	case strings.HasPrefix(databaseURL, "file:"), strings.HasPrefix(databaseURL, "sqlite:"):
		return "sqlite"
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(databaseURL, "mongodb://"), strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return "mongodb"
	case strings.HasPrefix(databaseURL, "redis://"), strings.HasPrefix(databaseURL, "rediss://"):
		return "redis"
	}
	return "sqlite"
}

var passwordRe = regexp.MustCompile(`(://[^:/@]*:)([^@]+)(@)`)

// maskPassword 隐藏密码
func maskPassword(url string) string {
	return passwordRe.ReplaceAllString(url, "${1}***${3}")
}

// maskSecret 只显示是否已配置
func maskSecret(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "***"
}

// parseEnv 解析环境字符串
func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// firstEnv 返回第一个非空的环境变量值（兼容多种 Docker Compose 变量名）
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnv 获取环境变量，支持默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码与密钥）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Driver: %s, DB: %s, Port: %s, LLMKey: %s, JWT: %s}",
		c.Env, c.DatabaseDriver, maskPassword(c.DatabaseURL), c.Server.Port,
		maskSecret(c.LLM.APIKey), maskSecret(c.Auth.JWTSecret))
}
