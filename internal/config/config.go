package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" validate:"required"`
		Mode string `yaml:"mode" validate:"omitempty,oneof=debug release test"`
	} `yaml:"server"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Catalog struct {
		File string `yaml:"file"`
	} `yaml:"catalog"`
	Attempts struct {
		Retention     string `yaml:"retention"`
		CheckpointTTL string `yaml:"checkpointTtl"`
		PruneInterval string `yaml:"pruneInterval"`
		SubmitTimeout string `yaml:"submitTimeout"`
		LeaseTTL      string `yaml:"leaseTtl"`
		Instance      string `yaml:"instance"`
	} `yaml:"attempts"`
	Logging struct {
		Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format     string `yaml:"format" validate:"omitempty,oneof=console json"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMb" validate:"gte=0"`
		MaxBackups int    `yaml:"maxBackups" validate:"gte=0"`
		MaxAgeDays int    `yaml:"maxAgeDays" validate:"gte=0"`
	} `yaml:"logging"`
	Events struct {
		Enabled      bool     `yaml:"enabled"`
		Publisher    string   `yaml:"publisher" validate:"omitempty,oneof=kafka gochannel"`
		KafkaBrokers []string `yaml:"kafkaBrokers" validate:"required_if=Publisher kafka"`
		Topic        string   `yaml:"topic"`
	} `yaml:"events"`
}

// LoadEnv reads .env files into the process environment. Missing files are ignored.
func LoadEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// Load reads YAML config from path, expanding ${VAR} references, then applies env overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks struct tags and duration strings.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]string{
		"redis.ttl":              cfg.Redis.TTL,
		"quiz.ttl":               cfg.Quiz.TTL,
		"attempts.retention":     cfg.Attempts.Retention,
		"attempts.checkpointTtl": cfg.Attempts.CheckpointTTL,
		"attempts.pruneInterval": cfg.Attempts.PruneInterval,
		"attempts.submitTimeout": cfg.Attempts.SubmitTimeout,
		"attempts.leaseTtl":      cfg.Attempts.LeaseTTL,
	}
	for name, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
