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

// Config aggregates every subsystem's settings.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Session  SessionConfig
	Telegram TelegramConfig
	Admin    AdminConfig
	Files    FilesConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	telegram, err := loadTelegramConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Session:  session,
		Telegram: telegram,
		Admin:    loadAdminConfig(),
		Files:    loadFilesConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3003"
	}

	if strings.Contains(port, ":") {
		// Accept ":3003" or "127.0.0.1:3003" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the upstream chat-model provider.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	MaxTokens      *int
	StreamResponse bool
}

// Enabled reports whether the required provider credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a provider-bound chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: set ARK_API_KEY (or AK/SK pair) and ARK_MODEL")
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

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// SessionConfig bounds the in-memory session store.
type SessionConfig struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	MessageCap    int
	HistoryLimit  int
}

func loadSessionConfig() (SessionConfig, error) {
	timeout, err := parseOptionalIntEnv("SESSION_TIMEOUT_SECONDS")
	if err != nil {
		return SessionConfig{}, err
	}
	timeoutSeconds := 3600
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	cap, err := parseOptionalIntEnv("SESSION_MESSAGE_CAP")
	if err != nil {
		return SessionConfig{}, err
	}
	messageCap := 100
	if cap != nil && *cap > 0 {
		messageCap = *cap
	}

	return SessionConfig{
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
		SweepInterval: time.Minute,
		MessageCap:    messageCap,
		HistoryLimit:  10,
	}, nil
}

// TelegramConfig describes the bot webhook integration.
type TelegramConfig struct {
	Token          string
	WebhookURL     string
	AppURL         string
	ProcessTimeout time.Duration
}

// Enabled reports whether a bot token is configured.
func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

func loadTelegramConfig() (TelegramConfig, error) {
	timeout, err := parseOptionalIntEnv("TELEGRAM_PROCESS_TIMEOUT_SECONDS")
	if err != nil {
		return TelegramConfig{}, err
	}
	timeoutSeconds := 18
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if token == "" {
		token = strings.TrimSpace(os.Getenv("MAIN_BOT_TOKEN"))
	}

	webhookURL := strings.TrimSpace(os.Getenv("WEBHOOK_URL"))

	return TelegramConfig{
		Token:          token,
		WebhookURL:     webhookURL,
		AppURL:         getEnvOrDefault("APP_URL", webhookURL),
		ProcessTimeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// AdminConfig gates the admin HTTP surface.
type AdminConfig struct {
	Token string
}

func loadAdminConfig() AdminConfig {
	return AdminConfig{Token: strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))}
}

// FilesConfig locates the flat-file persistence paths.
type FilesConfig struct {
	WhitelistPath string
	ConfigDir     string
}

func loadFilesConfig() FilesConfig {
	return FilesConfig{
		WhitelistPath: getEnvOrDefault("WHITELIST_PATH", "config/whitelist.json"),
		ConfigDir:     getEnvOrDefault("CONFIG_DIR", "config/admin"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
