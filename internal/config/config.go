package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// storage
	DBDriver       string
	ChatDBDSN      string
	IdentityDBDSN  string
	DBBusyTimeout  time.Duration
	DBMaxOpenConns int

	JWTSecret    string
	JWTTTL       time.Duration
	CookieMaxAge int
	SecureCookie bool
	BcryptCost   int

	GuestDailyLimit int
	ReplyMaxTokens  int

	// AI provider
	MedicalAPIURL     string
	MedicalAPIKey     string
	MedicalAPITimeout time.Duration
	AIProvider        string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// logging
	LogFile  string
	LogLevel slog.Level
}

func Load() Config {
	driver := strings.ToLower(getEnv("DB_DRIVER", "sqlite"))

	// sqlite: a file path; mysql demo:
	// app:apppass@tcp(127.0.0.1:3306)/radiglow?charset=utf8mb4&parseTime=true&loc=UTC
	chatDSN := getEnv("CHAT_DB_DSN", "data/chat.db")
	identityDSN := getEnv("IDENTITY_DB_DSN", "data/radiglow.db")

	return Config{
		Port: getEnv("PORT", "8000"),

		DBDriver:       driver,
		ChatDBDSN:      chatDSN,
		IdentityDBDSN:  identityDSN,
		DBBusyTimeout:  getEnvDuration("DB_BUSY_TIMEOUT", 30*time.Second),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 8),

		JWTSecret:    getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:       getEnvDuration("JWT_TTL", 12*time.Hour),
		CookieMaxAge: getEnvInt("COOKIE_MAX_AGE", 1800),
		SecureCookie: getEnvBool("SECURE_COOKIE", false),
		BcryptCost:   getEnvInt("BCRYPT_COST", 12),

		GuestDailyLimit: getEnvInt("GUEST_DAILY_LIMIT", 3),
		ReplyMaxTokens:  getEnvInt("REPLY_MAX_TOKENS", 500),

		MedicalAPIURL:     os.Getenv("MEDICAL_API_URL"),
		MedicalAPIKey:     os.Getenv("MEDICAL_API_KEY"),
		MedicalAPITimeout: getEnvDuration("MEDICAL_API_TIMEOUT", 30*time.Second),
		AIProvider:        strings.ToLower(getEnv("AI_PROVIDER", "openrouter")),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: getEnv("OPENROUTER_APP_NAME", "RadiGlow"),

		LogFile:  os.Getenv("LOG_FILE"),
		LogLevel: parseLogLevel(getEnv("LOG_LEVEL", "INFO")),
	}
}

// Validate checks the values Load cannot default safely.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	switch c.DBDriver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER=%q", c.DBDriver))
	}
	if c.ChatDBDSN == "" || c.IdentityDBDSN == "" {
		errs = append(errs, errors.New("CHAT_DB_DSN and IDENTITY_DB_DSN are required"))
	} else if c.DBDriver == "sqlite" && c.ChatDBDSN == c.IdentityDBDSN {
		// each store gates its own writes; two gates on one file can overlap
		errs = append(errs, errors.New("CHAT_DB_DSN and IDENTITY_DB_DSN must differ for sqlite"))
	}
	if c.DBBusyTimeout <= 0 {
		errs = append(errs, errors.New("DB_BUSY_TIMEOUT must be > 0"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET cannot be empty"))
	}
	if c.GuestDailyLimit <= 0 {
		errs = append(errs, errors.New("GUEST_DAILY_LIMIT must be > 0"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDuration accepts Go durations ("30s") or a bare number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
