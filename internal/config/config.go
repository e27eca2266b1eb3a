package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML. Credentials may be
// overridden by environment variables; every required value is validated at
// load so missing configuration aborts startup instead of failing per request.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	GenerationProvider string `yaml:"generationProvider"` // openai | gemini
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	GenerationModel    string `yaml:"generationModel"`

	AuthJWKSURL string `yaml:"authJWKSURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	ServiceTokenSecret  string   `yaml:"serviceTokenSecret"`
	ServiceTokenIssuers []string `yaml:"serviceTokenIssuers"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AskRateLimitPerMinute int `yaml:"askRateLimitPerMinute"`
	WorkerConcurrency     int `yaml:"workerConcurrency"`
	MaxChapters           int `yaml:"maxChapters"`
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
	// Override with environment variables.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.GenerationBaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.GenerationAPIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("SERVICE_TOKEN_SECRET"); v != "" {
		cfg.ServiceTokenSecret = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.GenerationProvider)) {
	case "", "openai":
		if cfg.GenerationBaseURL == "" {
			return errors.New("config: generationBaseURL is required for the openai provider")
		}
	case "gemini":
		if cfg.GenerationAPIKey == "" {
			return errors.New("config: generationAPIKey is required for the gemini provider (set in config.yaml or LLM_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml or LLM_MODEL)")
	}
	if cfg.AuthJWKSURL == "" {
		return errors.New("config: authJWKSURL is required (set in config.yaml or AUTH_JWKS_URL)")
	}
	if cfg.ServiceTokenSecret == "" {
		return errors.New("config: serviceTokenSecret is required (set in config.yaml or SERVICE_TOKEN_SECRET)")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required when minioEndpoint is set")
		}
	}
	return nil
}

// ParseJWTLeeway parses the configured leeway duration, defaulting to zero
// (the verifier applies its own default).
func ParseJWTLeeway(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	leeway, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse jwtLeeway: %w", err)
	}
	if leeway < 0 {
		return 0, errors.New("jwtLeeway must not be negative")
	}
	return leeway, nil
}
