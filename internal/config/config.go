package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderTogether = "together"
	ProviderGemini   = "gemini"

	PolicyCreateNewChat = "create_new_chat"
	PolicyReject        = "reject"
)

type Config struct {
	HTTPPort  string
	LogLevel  string
	LogFile   string
	AppEnv    string
	JWTSecret string
	TokenTTL  time.Duration

	DatabaseDriver string
	DatabaseURL    string

	LLMProvider     string
	TogetherAPIKey  string
	TogetherBaseURL string
	ChatModel       string
	ImageModel      string
	GeminiAPIKey    string
	GeminiModel     string
	Temperature     float64
	MaxTokens       int
	ProviderTimeout time.Duration
	ProviderRPS     float64
	HistoryWindow   int

	OwnershipPolicy string

	ImageWidth  int
	ImageHeight int
	ImageSteps  int
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		HTTPPort:  v.GetString("HTTP_PORT"),
		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFile:   v.GetString("LOG_FILE"),
		AppEnv:    v.GetString("APP_ENV"),
		JWTSecret: v.GetString("JWT_SECRET"),
		TokenTTL:  v.GetDuration("TOKEN_TTL"),

		DatabaseDriver: v.GetString("DATABASE_DRIVER"),
		DatabaseURL:    v.GetString("DATABASE_URL"),

		LLMProvider:     strings.ToLower(v.GetString("LLM_PROVIDER")),
		TogetherAPIKey:  v.GetString("TOGETHER_API_KEY"),
		TogetherBaseURL: v.GetString("TOGETHER_BASE_URL"),
		ChatModel:       v.GetString("CHAT_MODEL"),
		ImageModel:      v.GetString("IMAGE_MODEL"),
		GeminiAPIKey:    v.GetString("GEMINI_API_KEY"),
		GeminiModel:     v.GetString("GEMINI_MODEL"),
		Temperature:     v.GetFloat64("LLM_TEMPERATURE"),
		MaxTokens:       v.GetInt("LLM_MAX_TOKENS"),
		ProviderTimeout: v.GetDuration("PROVIDER_TIMEOUT"),
		ProviderRPS:     v.GetFloat64("PROVIDER_RPS"),
		HistoryWindow:   v.GetInt("HISTORY_WINDOW"),

		OwnershipPolicy: strings.ToLower(v.GetString("CHAT_OWNERSHIP_POLICY")),

		ImageWidth:  v.GetInt("IMAGE_WIDTH"),
		ImageHeight: v.GetInt("IMAGE_HEIGHT"),
		ImageSteps:  v.GetInt("IMAGE_STEPS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "5000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("DATABASE_DRIVER", "sqlite3")
	v.SetDefault("DATABASE_URL", "aetheron.db")
	v.SetDefault("LLM_PROVIDER", ProviderTogether)
	v.SetDefault("TOGETHER_BASE_URL", "https://api.together.xyz/v1")
	v.SetDefault("CHAT_MODEL", "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free")
	v.SetDefault("IMAGE_MODEL", "black-forest-labs/FLUX.1-schnell-Free")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash-latest")
	v.SetDefault("LLM_TEMPERATURE", 0.7)
	v.SetDefault("LLM_MAX_TOKENS", 2048)
	v.SetDefault("PROVIDER_TIMEOUT", "60s")
	v.SetDefault("PROVIDER_RPS", 2)
	v.SetDefault("HISTORY_WINDOW", 10)
	v.SetDefault("CHAT_OWNERSHIP_POLICY", PolicyCreateNewChat)
	v.SetDefault("IMAGE_WIDTH", 512)
	v.SetDefault("IMAGE_HEIGHT", 512)
	v.SetDefault("IMAGE_STEPS", 2)
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}

	switch c.DatabaseDriver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.LLMProvider {
	case ProviderTogether:
		if c.TogetherAPIKey == "" {
			return fmt.Errorf("TOGETHER_API_KEY environment variable is required")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2], got %v", c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 4096 {
		return fmt.Errorf("LLM_MAX_TOKENS must be within [1, 4096], got %d", c.MaxTokens)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("HISTORY_WINDOW cannot be negative")
	}

	switch c.OwnershipPolicy {
	case PolicyCreateNewChat, PolicyReject:
	default:
		return fmt.Errorf("unsupported CHAT_OWNERSHIP_POLICY %q", c.OwnershipPolicy)
	}
	return nil
}

// LoadDatabase reads only the storage settings, for commands that never talk
// to a provider.
func LoadDatabase() (driver, dsn string, err error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	driver, dsn = v.GetString("DATABASE_DRIVER"), v.GetString("DATABASE_URL")
	switch driver {
	case "sqlite3", "sqlite":
		return driver, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}
}
