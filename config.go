package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is read from the environment, optionally seeded by a .env file.
type Config struct {
	Port           string        `env:"PORT" envDefault:"3001"`
	DatabasePath   string        `env:"DATABASE_PATH" envDefault:"./taskflow.db"`
	JWTSecret      string        `env:"JWT_SECRET,required,notEmpty"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	DevTokens      bool          `env:"DEV_TOKENS" envDefault:"false"`
	ReportInterval time.Duration `env:"REPORT_INTERVAL" envDefault:"24h"`

	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"taskflow:events"`

	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`
	JiraSiteURL     string `env:"JIRA_SITE_URL"`
	JiraToken       string `env:"JIRA_TOKEN"`
	JiraProjectKey  string `env:"JIRA_PROJECT_KEY" envDefault:"TASK"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// LoadConfig loads filename into the environment when it exists, without
// overriding variables that are already set, then parses Config.
func LoadConfig(filename string) (Config, error) {
	if err := godotenv.Load(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", filename, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ReportInterval < 0 {
		return Config{}, fmt.Errorf("REPORT_INTERVAL must not be negative, got %s", cfg.ReportInterval)
	}
	return cfg, nil
}

// JiraEnabled reports whether both the site and a token are configured.
func (c Config) JiraEnabled() bool {
	return c.JiraSiteURL != "" && c.JiraToken != ""
}

func newLogger(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", cfg.LogFormat)
	}
	return log, nil
}
