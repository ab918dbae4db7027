package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the YAML config file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret string `yaml:"jwtSecret"`

	GeminiAPIKey     string `yaml:"geminiAPIKey"`
	TranslationModel string `yaml:"translationModel"`

	MessageRateLimit    int `yaml:"messageRateLimit"`
	MessageRateWindowMs int `yaml:"messageRateWindowMs"`
	LoginRateLimit      int `yaml:"loginRateLimit"`
	LoginRateWindowMs   int `yaml:"loginRateWindowMs"`

	TranslationCacheSize   int `yaml:"translationCacheSize"`
	TranslationCacheTTLMin int `yaml:"translationCacheTTLMinutes"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	TrustProxyHeaders bool `yaml:"trustProxyHeaders"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_TRANSLATION_MODEL"); v != "" {
		cfg.TranslationModel = v
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.TranslationModel == "" {
		cfg.TranslationModel = "gemini-2.0-flash"
	}
	if cfg.MessageRateLimit == 0 {
		cfg.MessageRateLimit = 5
	}
	if cfg.MessageRateWindowMs == 0 {
		cfg.MessageRateWindowMs = 1000
	}
	if cfg.LoginRateLimit == 0 {
		cfg.LoginRateLimit = 5
	}
	if cfg.LoginRateWindowMs == 0 {
		cfg.LoginRateWindowMs = 60_000
	}
	if cfg.TranslationCacheSize == 0 {
		cfg.TranslationCacheSize = 500
	}
	if cfg.TranslationCacheTTLMin == 0 {
		cfg.TranslationCacheTTLMin = 60
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
	}
	if cfg.MessageRateLimit < 0 || cfg.MessageRateWindowMs < 0 {
		return errors.New("config: message rate limit settings must not be negative")
	}
	if cfg.LoginRateLimit < 0 || cfg.LoginRateWindowMs < 0 {
		return errors.New("config: login rate limit settings must not be negative")
	}
	return nil
}
