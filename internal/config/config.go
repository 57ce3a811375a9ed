package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Storage  StorageConfig
	AI       AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Realtime: realtime,
		Storage:  loadStorageConfig(),
		AI:       ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// RealtimeConfig 描述上游实时语音接口的配置。
type RealtimeConfig struct {
	APIKey             string
	URL                string
	Model              string
	Voice              string
	AudioFormat        string
	TranscriptionModel string
	Temperature        float64
	MaxTokens          int
	HandshakeTimeout   time.Duration
	IncludeHistory     bool
}

// Enabled reports whether the upstream credential is present.
func (c RealtimeConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	temperature, err := parseOptionalFloatEnv("REALTIME_TEMPERATURE")
	if err != nil {
		return RealtimeConfig{}, err
	}
	temp := 0.7
	if temperature != nil {
		temp = *temperature
	}

	maxTokens, err := parseOptionalIntEnv("REALTIME_MAX_TOKENS")
	if err != nil {
		return RealtimeConfig{}, err
	}
	tokens := 300
	if maxTokens != nil {
		if *maxTokens < 1 {
			return RealtimeConfig{}, fmt.Errorf("invalid REALTIME_MAX_TOKENS value %d: must be positive", *maxTokens)
		}
		tokens = *maxTokens
	}

	timeout, err := parseOptionalIntEnv("REALTIME_HANDSHAKE_TIMEOUT")
	if err != nil {
		return RealtimeConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	includeHistory, err := parseBoolEnv("REALTIME_INCLUDE_HISTORY", false)
	if err != nil {
		return RealtimeConfig{}, err
	}

	return RealtimeConfig{
		APIKey:             strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		URL:                getEnvOrDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		Model:              getEnvOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview"),
		Voice:              getEnvOrDefault("REALTIME_VOICE", "coral"),
		AudioFormat:        getEnvOrDefault("REALTIME_AUDIO_FORMAT", "pcm16"),
		TranscriptionModel: getEnvOrDefault("REALTIME_TRANSCRIPTION_MODEL", "whisper-1"),
		Temperature:        temp,
		MaxTokens:          tokens,
		HandshakeTimeout:   time.Duration(timeoutSeconds) * time.Second,
		IncludeHistory:     includeHistory,
	}, nil
}

// StorageConfig 描述本地数据库与提示词文件位置。
type StorageConfig struct {
	DBPath      string
	PromptsFile string
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		DBPath:      getEnvOrDefault("JOURNAL_DB_PATH", "journal.db"),
		PromptsFile: strings.TrimSpace(os.Getenv("JOURNAL_PROMPTS_FILE")),
	}
}

// AIConfig 描述生成历史摘要所用的大模型配置。
type AIConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
	MaxTokens *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
		MaxTokens: maxTokens,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		MaxTokens: maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv 返回去除空白后的值，未设置或为空时 ok 为 false。
func lookupEnv(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	val, err := parseOptionalEnv(key, strconv.ParseBool)
	if err != nil || val == nil {
		return defaultValue, err
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	return parseOptionalEnv(key, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

func parseOptionalIntEnv(key string) (*int, error) {
	return parseOptionalEnv(key, strconv.Atoi)
}

// parseOptionalEnv 解析可选环境变量，未设置时返回 nil。
func parseOptionalEnv[T any](key string, parse func(string) (T, error)) (*T, error) {
	raw, ok := lookupEnv(key)
	if !ok {
		return nil, nil
	}

	val, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}
