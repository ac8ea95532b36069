// Package config loads autopilot settings from an optional YAML file and
// the environment. Environment variables take precedence over the file.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/policy"
)

// Config is the full runtime configuration.
type Config struct {
	ConsoleAPIKey     string `yaml:"console_api_key"`
	ConsoleAPIBaseURL string `yaml:"console_api_base_url"`

	RecommenderAPIKey  string `yaml:"recommender_api_key"`
	RecommenderBaseURL string `yaml:"recommender_base_url"`
	RecommenderModel   string `yaml:"recommender_model"`

	LoopIntervalSeconds int `yaml:"loop_interval"`

	DBDriver    string `yaml:"db_driver"`
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`

	Policy     policy.Policy `yaml:"policy"`
	PolicyFile string        `yaml:"policy_file"`

	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	UseMockAPIs bool   `yaml:"use_mock_apis"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	ArchiveBucket string `yaml:"archive_bucket"`
	ArchivePrefix string `yaml:"archive_prefix"`
}

const (
	defaultConsoleBaseURL     = "https://console-api.akash.network"
	defaultRecommenderBaseURL = "https://api.akashml.com/v1"
	defaultRecommenderModel   = "llama-3-3-70b"
	defaultLoopInterval       = 120
	defaultHTTPAddr           = ":8000"
	defaultKafkaTopic         = "autopilot.ledger"
)

// Dir returns the autopilot state directory: $AUTOPILOT_HOME, or
// ~/.autopilot when unset.
func Dir() (string, error) {
	if d := os.Getenv("AUTOPILOT_HOME"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".autopilot"), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	dbPath := "autopilot.db"
	if dir, err := Dir(); err == nil {
		dbPath = filepath.Join(dir, "autopilot.db")
	}
	return Config{
		ConsoleAPIBaseURL:   defaultConsoleBaseURL,
		RecommenderBaseURL:  defaultRecommenderBaseURL,
		RecommenderModel:    defaultRecommenderModel,
		LoopIntervalSeconds: defaultLoopInterval,
		DBDriver:            "sqlite",
		DBPath:              dbPath,
		Policy:              policy.Defaults(),
		HTTPAddr:            defaultHTTPAddr,
		LogLevel:            "info",
		KafkaTopic:          defaultKafkaTopic,
	}
}

// Load builds a Config from defaults, then the YAML file at path (or
// $AUTOPILOT_CONFIG when path is empty), then the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("AUTOPILOT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.DBPath = expandHome(cfg.DBPath)
	cfg.PolicyFile = expandHome(cfg.PolicyFile)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ConsoleAPIKey = getEnv("CONSOLE_API_KEY", c.ConsoleAPIKey)
	c.ConsoleAPIBaseURL = getEnv("CONSOLE_API_BASE_URL", c.ConsoleAPIBaseURL)
	c.RecommenderAPIKey = getEnv("RECOMMENDER_API_KEY", firstNonEmpty(os.Getenv("AKASHML_API_KEY"), c.RecommenderAPIKey))
	c.RecommenderBaseURL = getEnv("RECOMMENDER_BASE_URL", firstNonEmpty(os.Getenv("AKASHML_BASE_URL"), c.RecommenderBaseURL))
	c.RecommenderModel = getEnv("RECOMMENDER_MODEL", firstNonEmpty(os.Getenv("AKASHML_MODEL"), c.RecommenderModel))
	c.LoopIntervalSeconds = getInt("LOOP_INTERVAL", c.LoopIntervalSeconds)

	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.Policy.MaxActionsPerHour = getInt("MAX_ACTIONS_PER_HOUR", c.Policy.MaxActionsPerHour)
	c.Policy.MaxActionsPerDay = getInt("MAX_ACTIONS_PER_DAY", c.Policy.MaxActionsPerDay)
	c.Policy.ScaleCooldownSeconds = getInt("SCALE_COOLDOWN_SECONDS", c.Policy.ScaleCooldownSeconds)
	c.Policy.RedeployCooldownSeconds = getInt("REDEPLOY_COOLDOWN_SECONDS", c.Policy.RedeployCooldownSeconds)
	c.Policy.MaxReplicas = getInt("MAX_REPLICAS", c.Policy.MaxReplicas)
	c.Policy.MinReplicas = getInt("MIN_REPLICAS", c.Policy.MinReplicas)
	c.PolicyFile = getEnv("POLICY_FILE", c.PolicyFile)

	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.UseMockAPIs = getBool("USE_MOCK_APIS", c.UseMockAPIs)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.ArchiveBucket = getEnv("ARCHIVE_BUCKET", c.ArchiveBucket)
	c.ArchivePrefix = getEnv("ARCHIVE_PREFIX", c.ArchivePrefix)
}

// Validate checks values that would otherwise fail later and less clearly.
func (c Config) Validate() error {
	if c.LoopIntervalSeconds <= 0 {
		return fmt.Errorf("loop interval must be positive, got %d", c.LoopIntervalSeconds)
	}
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "sqlite3":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH required for sqlite")
		}
	case "postgres", "postgresql", "pq":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL required for postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}

// LoopInterval returns the sleep between iterations.
func (c Config) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalSeconds) * time.Second
}

// DSN returns the data source for the configured driver.
func (c Config) DSN() string {
	switch strings.ToLower(c.DBDriver) {
	case "postgres", "postgresql", "pq":
		return c.DatabaseURL
	}
	return c.DBPath
}

// DSNForDisplay is DSN with any password redacted.
func (c Config) DSNForDisplay() string {
	dsn := c.DSN()
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		return u.Redacted()
	}
	return dsn
}

// MockDeployments reports whether the deployment API should be mocked.
func (c Config) MockDeployments() bool {
	return c.UseMockAPIs || placeholder(c.ConsoleAPIKey)
}

// MockRecommender reports whether the recommender should be mocked.
func (c Config) MockRecommender() bool {
	return c.UseMockAPIs || placeholder(c.RecommenderAPIKey)
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Public is the configuration subset safe to expose on the status surface.
func (c Config) Public() map[string]any {
	return map[string]any{
		"loop_interval":      c.LoopIntervalSeconds,
		"use_mock_apis":      c.MockDeployments() || c.MockRecommender(),
		"db_driver":          c.DBDriver,
		"recommender_model":  c.RecommenderModel,
		"policy_file":        c.PolicyFile,
		"kafka_enabled":      len(c.KafkaBrokers) > 0,
		"archive_configured": c.ArchiveBucket != "",
	}
}

func placeholder(key string) bool {
	return key == "" || strings.HasPrefix(key, "your_")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
