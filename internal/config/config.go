package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "querydeck.yaml"
	DefaultEnvFile    = ".env"
	keyVar            = "QUERYDECK_KEY"
)

type Config struct {
	DataDir string        `yaml:"data_dir"`
	Key     string        `yaml:"-"`
	HTTP    HTTPConfig    `yaml:"http"`
	Query   QueryConfig   `yaml:"query"`
	Logging LoggingConfig `yaml:"logging"`
	History HistoryConfig `yaml:"history"`
}

type HTTPConfig struct {
	Port          int     `yaml:"port"`
	RatePerMinute float64 `yaml:"rate_per_minute"` // Run submissions per client
	Burst         int     `yaml:"burst"`
}

type QueryConfig struct {
	Timeout          Duration `yaml:"timeout"`
	ProgressInterval Duration `yaml:"progress_interval"`
	Workers          int      `yaml:"workers"`
	ShutdownGrace    Duration `yaml:"shutdown_grace"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type HistoryConfig struct {
	RetentionDays int    `yaml:"retention_days"` // 0 keeps everything
	PruneSchedule string `yaml:"prune_schedule"`
}

// Duration lets YAML carry values such as "60s" or "100ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

func Defaults() *Config {
	return &Config{
		DataDir: ".",
		HTTP: HTTPConfig{
			Port:          8080,
			RatePerMinute: 60,
			Burst:         10,
		},
		Query: QueryConfig{
			Timeout:          Duration{60 * time.Second},
			ProgressInterval: Duration{100 * time.Millisecond},
			Workers:          runtime.NumCPU(),
			ShutdownGrace:    Duration{5 * time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "logs",
		},
		History: HistoryConfig{
			PruneSchedule: "@daily",
		},
	}
}

// Load reads the YAML file (if any), the .env file and the environment, in
// that order of increasing precedence.
func Load(path string) (*Config, error) {
	return LoadFrom(path, DefaultEnvFile)
}

func LoadFrom(path, envFile string) (*Config, error) {
	// Try loading .env file, but don't fail if it doesn't exist
	_ = godotenv.Load(envFile)

	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("QUERYDECK_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)

	key := os.Getenv(keyVar)
	if len(key) < 32 {
		newKey, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		if err := saveKeyToEnv(envFile, newKey); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save generated key to %s: %v\n", envFile, err)
		}
		os.Setenv(keyVar, newKey)
		key = newKey
	}
	cfg.Key = key

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("QUERYDECK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v, err := strconv.Atoi(os.Getenv("QUERYDECK_PORT")); err == nil {
		cfg.HTTP.Port = v
	}
	if v, err := strconv.Atoi(os.Getenv("QUERYDECK_QUERY_TIMEOUT_MS")); err == nil {
		cfg.Query.Timeout = Duration{time.Duration(v) * time.Millisecond}
	}
	if v, err := strconv.Atoi(os.Getenv("QUERYDECK_PROGRESS_INTERVAL_MS")); err == nil {
		cfg.Query.ProgressInterval = Duration{time.Duration(v) * time.Millisecond}
	}
	if v, err := strconv.Atoi(os.Getenv("QUERYDECK_WORKERS")); err == nil {
		cfg.Query.Workers = v
	}
	if v := os.Getenv("QUERYDECK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Query.Timeout.Duration <= 0 {
		return fmt.Errorf("query.timeout must be positive")
	}
	if c.Query.ProgressInterval.Duration <= 0 {
		return fmt.Errorf("query.progress_interval must be positive")
	}
	if c.Query.Workers <= 0 {
		c.Query.Workers = runtime.NumCPU()
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days cannot be negative")
	}
	return nil
}

// DBPath is the location of the application database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "querydeck.db")
}

func generateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// saveKeyToEnv writes or replaces QUERYDECK_KEY in the env file, keeping the
// other entries.
func saveKeyToEnv(filename, key string) error {
	env, err := godotenv.Read(filename)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if env == nil {
		env = map[string]string{}
	}
	env[keyVar] = key

	// godotenv.Write sorts keys and quotes values
	if err := godotenv.Write(env, filename); err != nil {
		return err
	}
	return os.Chmod(filename, 0600)
}

// String hides the key when the config is printed.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "data_dir=%s port=%d timeout=%s progress=%s workers=%d",
		c.DataDir, c.HTTP.Port, c.Query.Timeout, c.Query.ProgressInterval, c.Query.Workers)
	return b.String()
}
