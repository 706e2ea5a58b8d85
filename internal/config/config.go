package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is read.
const (
	EnvAPIURL    = "NEUROFORGE_API_URL"
	EnvModelPath = "ORCHESTRATOR_MODEL_PATH"
	EnvGeminiKey = "GEMINI_API_KEY"
	EnvOpenAIKey = "OPENAI_API_KEY"
)

type RuntimeConfig struct {
	Dev bool
}

type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type PollConfig struct {
	Interval               time.Duration `yaml:"interval"`
	FetchTimeout           time.Duration `yaml:"fetch_timeout"`            // 0 = same as interval
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"` // 0 = unlimited
}

type ReconcileConfig struct {
	LogMerge string `yaml:"log_merge"` // value|offset
}

type ChatConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// FeedConfig controls the local listener serving the live job feed and metrics.
type FeedConfig struct {
	Listen string `yaml:"listen"`
}

type TrainerConfig struct {
	Port                  int           `yaml:"port"`
	AllowedOrigin         string        `yaml:"allowed_origin"`
	StepInterval          time.Duration `yaml:"step_interval"`
	Steps                 int           `yaml:"steps"`
	Workers               int           `yaml:"workers"`
	QueueSize             int           `yaml:"queue_size"`
	Retention             time.Duration `yaml:"retention"`
	ChatDelay             time.Duration `yaml:"chat_delay"` // negative disables the mock delay
	OrchestratorModelPath string        `yaml:"orchestrator_model_path"`
	GeminiKey             string        `yaml:"gemini_key"`
	GeminiURL             string        `yaml:"gemini_url"`
	OpenAIKey             string        `yaml:"openai_key"`
	OpenAIBaseURL         string        `yaml:"openai_base_url"`
	OpenAIModel           string        `yaml:"openai_model"`
	DefaultModel          string        `yaml:"default_model"`
}

type Config struct {
	API       APIConfig       `yaml:"api"`
	Poll      PollConfig      `yaml:"poll"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Chat      ChatConfig      `yaml:"chat"`
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	Feed      FeedConfig      `yaml:"feed"`
	Trainer   TrainerConfig   `yaml:"trainer"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		EnvAPIURL:    &c.API.BaseURL,
		EnvModelPath: &c.Trainer.OrchestratorModelPath,
		EnvGeminiKey: &c.Trainer.GeminiKey,
		EnvOpenAIKey: &c.Trainer.OpenAIKey,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000"
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.RequestTimeout <= 0 {
		c.API.RequestTimeout = 10 * time.Second
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = time.Second
	}
	if c.Poll.FetchTimeout <= 0 {
		c.Poll.FetchTimeout = c.Poll.Interval
	}
	if c.Reconcile.LogMerge == "" {
		c.Reconcile.LogMerge = "value"
	}
	if c.Chat.HistoryLimit <= 0 {
		c.Chat.HistoryLimit = 15
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)

	if c.Trainer.Port <= 0 {
		c.Trainer.Port = 8000
	}
	if c.Trainer.AllowedOrigin == "" {
		c.Trainer.AllowedOrigin = "http://localhost:3000"
	}
	if c.Trainer.StepInterval <= 0 {
		c.Trainer.StepInterval = 500 * time.Millisecond
	}
	if c.Trainer.Steps <= 0 {
		c.Trainer.Steps = 10
	}
	if c.Trainer.Workers <= 0 {
		c.Trainer.Workers = 4
	}
	if c.Trainer.QueueSize <= 0 {
		c.Trainer.QueueSize = 32
	}
	if c.Trainer.Retention <= 0 {
		c.Trainer.Retention = time.Hour
	}
	switch {
	case c.Trainer.ChatDelay == 0:
		c.Trainer.ChatDelay = 1500 * time.Millisecond
	case c.Trainer.ChatDelay < 0:
		c.Trainer.ChatDelay = 0
	}
	if c.Trainer.OrchestratorModelPath == "" {
		c.Trainer.OrchestratorModelPath = "MOCK_MODE"
	}
	if c.Trainer.DefaultModel == "" {
		c.Trainer.DefaultModel = "gemini-2.0-flash"
	}
	if c.Trainer.OpenAIModel == "" {
		c.Trainer.OpenAIModel = "gpt-4o-mini"
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url is invalid: %q", c.API.BaseURL)
	}
	if c.Poll.MaxConsecutiveFailures < 0 {
		return errors.New("poll.max_consecutive_failures must be >= 0")
	}
	if c.Chat.HistoryLimit > 1000 {
		return fmt.Errorf("chat.history_limit too large: %d", c.Chat.HistoryLimit)
	}
	switch c.Reconcile.LogMerge {
	case "value", "offset":
	default:
		return fmt.Errorf("reconcile.log_merge must be value or offset, got %q", c.Reconcile.LogMerge)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Minute
	}
	return d
}
