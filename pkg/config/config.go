package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const placeholderJWTSecret = "your-secret-key-change-in-production"

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string

	// 数据库配置
	PostgresDSN string
	UseMemoryDB bool

	// JWT配置
	JWTSecret          string
	JWTAlgorithm       string
	AccessTokenExpires time.Duration

	// Telegram
	BotToken       string
	TelegramAPIURL string
	WebhookSecret  string
	WebAppURL      string
	// CreatorTelegramID is the designated approver for every gated action.
	CreatorTelegramID int64

	// OpenAI
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AIModel         string
	TranscribeModel string

	// 上传
	UploadDir      string
	MaxUploadBytes int64

	OutboundTimeout time.Duration

	// CORS配置
	AllowedOrigins []string

	// 调试配置
	Debug bool
}

// LoadConfig 加载配置
//
// Sources, highest priority first: process environment, the .env file for
// the current environment, then the YAML file named by CONFIG_FILE.
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAMLFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: config file %s: %v\n", path, err)
		}
	}

	config := &Config{
		Environment:        getEnvWithDefault("ENVIRONMENT", "development"),
		Port:               getEnvWithDefault("PORT", "8000"),
		PostgresDSN:        strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		UseMemoryDB:        getEnvBool("USE_MEMORY_DB", false),
		JWTSecret:          getEnvWithDefault("JWT_SECRET", placeholderJWTSecret),
		JWTAlgorithm:       strings.ToUpper(getEnvWithDefault("JWT_ALGORITHM", "HS256")),
		AccessTokenExpires: time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute,

		BotToken:          strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		TelegramAPIURL:    strings.TrimRight(getEnvWithDefault("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
		WebhookSecret:     strings.TrimSpace(os.Getenv("TELEGRAM_WEBHOOK_SECRET")),
		WebAppURL:         strings.TrimRight(strings.TrimSpace(os.Getenv("WEBAPP_URL")), "/"),
		CreatorTelegramID: int64(getEnvInt("CREATOR_TELEGRAM_ID", 0)),

		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:   strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		AIModel:         getEnvWithDefault("AI_MODEL", "gpt-4o-mini"),
		TranscribeModel: getEnvWithDefault("TRANSCRIBE_MODEL", "whisper-1"),

		UploadDir:       getEnvWithDefault("UPLOAD_DIR", "uploads/photos"),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		OutboundTimeout: time.Duration(getEnvInt("OUTBOUND_TIMEOUT_SECONDS", 30)) * time.Second,

		Debug: getEnvBool("DEBUG", false),
	}

	// CORS配置
	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	if config.IsProduction() {
		config.Debug = false
	}
	return config
}

// Cached config (initialized once per process)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == placeholderJWTSecret {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("JWT_ALGORITHM %q is not supported", c.JWTAlgorithm)
	}
	if c.AccessTokenExpires <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}

	if !c.UseMemoryDB && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (or set USE_MEMORY_DB=true)")
	}

	if c.CreatorTelegramID == 0 {
		return fmt.Errorf("CREATOR_TELEGRAM_ID is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// 辅助函数

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// loadEnvFile 加载 .env 文件到环境变量
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// 移除值两端的引号（如果有）
		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}
		setIfUnset(key, value)
	}
}

// loadYAMLFile reads a flat mapping of env-var names to scalar values.
func loadYAMLFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var values map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	for key, node := range values {
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("key %s: expected a scalar value", key)
		}
		setIfUnset(strings.ToUpper(key), node.Value)
	}
	return nil
}

// 只有当环境变量不存在时才设置
func setIfUnset(key, value string) {
	if os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
