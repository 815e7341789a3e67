package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr      string
	Port            string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	GinMode         string
	Timezone        string
	GeminiAPIKey    string
	GeminiBaseURL   string
	GeminiFoodModel string
	GeminiBodyModel string
	AIMaxRetries    int
	AIInitialDelay  time.Duration
	ResultCacheTTL  time.Duration
	QuotaPolicyFile string
}

// QuotaPolicyOverride 描述 YAML 中单个资源的配额覆盖项，未填写的字段保持默认。
type QuotaPolicyOverride struct {
	Window  string `yaml:"window"`
	Free    *int   `yaml:"free"`
	Premium *int   `yaml:"premium"`
}

// QuotaPolicyFile 是配额策略文件的顶层结构，键为资源名（ai_inference、body_scan 等）。
type QuotaPolicyFile struct {
	Resources map[string]QuotaPolicyOverride `yaml:"resources"`
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := envOr("PORT", "8080")

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	return AppConfig{
		ListenAddr:      listenAddr,
		Port:            port,
		DatabaseDriver:  envOr("DATABASE_DRIVER", "sqlite"),
		DatabasePath:    envOr("DATABASE_PATH", "streakline.db"),
		DatabaseDSN:     strings.TrimSpace(os.Getenv("DATABASE_DSN")),
		GinMode:         envOr("GIN_MODE", "release"),
		Timezone:        strings.TrimSpace(os.Getenv("TIMEZONE")),
		GeminiAPIKey:    strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:   envOr("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiFoodModel: envOr("GEMINI_FOOD_MODEL", "gemini-3-flash-preview"),
		GeminiBodyModel: envOr("GEMINI_BODY_MODEL", "gemini-3-pro-preview"),
		AIMaxRetries:    envInt("AI_MAX_RETRIES", 3),
		AIInitialDelay:  envDuration("AI_INITIAL_DELAY", 2*time.Second),
		ResultCacheTTL:  envDuration("RESULT_CACHE_TTL", 7*24*time.Hour),
		QuotaPolicyFile: strings.TrimSpace(os.Getenv("QUOTA_POLICY_FILE")),
	}
}

// DatabaseTarget 返回当前驱动对应的连接串：sqlite 使用文件路径，postgres 使用 DSN。
func (c AppConfig) DatabaseTarget() string {
	if strings.EqualFold(c.DatabaseDriver, "postgres") {
		return c.DatabaseDSN
	}
	return c.DatabasePath
}

// Location 解析 TIMEZONE，非法或为空时回退到 time.Local。
func (c AppConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// LoadQuotaPolicyFile 读取 YAML 配额策略文件；path 为空时返回 nil。
func LoadQuotaPolicyFile(path string) (*QuotaPolicyFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quota policy file: %w", err)
	}

	var file QuotaPolicyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse quota policy file: %w", err)
	}
	return &file, nil
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
