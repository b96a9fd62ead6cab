package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Mode strings accepted by the DB_MODE / QUEUE_MODE / TOOL_MODE switches.
const (
	DBModeMemory   = "memory"
	DBModePostgres = "postgres"

	QueueModeMemory  = "memory"
	QueueModeDurable = "durable"

	ToolModeStub = "stub"
	ToolModeReal = "real"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig selects the tip store backend.
type DatabaseConfig struct {
	Mode string `yaml:"mode"`
	URL  string `yaml:"url"`
}

// QueueConfig selects the intake queue backend.
type QueueConfig struct {
	Mode        string `yaml:"mode"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPass   string `yaml:"redis_password"`
	Concurrency int    `yaml:"concurrency"`
}

// OracleConfig configures the language-model client.
type OracleConfig struct {
	ToolMode   string        `yaml:"tool_mode"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	ModelHigh  string        `yaml:"model_high"`
	ModelFast  string        `yaml:"model_fast"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryBase  time.Duration `yaml:"retry_base"`
	MaxRetries int           `yaml:"max_retries"`
}

// PipelineConfig bounds stage and whole-tip execution.
type PipelineConfig struct {
	StageTimeout time.Duration `yaml:"stage_timeout"`
	TipTimeout   time.Duration `yaml:"tip_timeout"`
	DemoMode     bool          `yaml:"demo_mode"`
}

// OfflineConfig enables the bundled hash database instead of live lookups.
type OfflineConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HashDBPath string `yaml:"hash_db_path"`
}

// RetentionConfig overrides per-ESP preservation retention windows.
type RetentionConfig struct {
	Overrides map[string]int `yaml:"overrides"`
}

// Config is the root configuration for the triage service.
type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Offline   OfflineConfig   `yaml:"offline"`
	Retention RetentionConfig `yaml:"retention"`
}

// yaml.v2 cannot decode Go duration strings into time.Duration, so the
// sections carrying timeouts unmarshal through shadow structs and merge into
// whatever defaults are already in place. Absent keys change nothing.

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*dst = d
	return nil
}

func (c *ServerConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		IdleTimeout  string `yaml:"idle_timeout"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.Port != 0 {
		c.Port = raw.Port
	}
	if err := setDuration(&c.ReadTimeout, raw.ReadTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.WriteTimeout, raw.WriteTimeout); err != nil {
		return err
	}
	return setDuration(&c.IdleTimeout, raw.IdleTimeout)
}

func (c *OracleConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		ToolMode   string `yaml:"tool_mode"`
		APIKey     string `yaml:"api_key"`
		BaseURL    string `yaml:"base_url"`
		ModelHigh  string `yaml:"model_high"`
		ModelFast  string `yaml:"model_fast"`
		Timeout    string `yaml:"timeout"`
		RetryBase  string `yaml:"retry_base"`
		MaxRetries int    `yaml:"max_retries"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.ToolMode != "" {
		c.ToolMode = raw.ToolMode
	}
	if raw.APIKey != "" {
		c.APIKey = raw.APIKey
	}
	if raw.BaseURL != "" {
		c.BaseURL = raw.BaseURL
	}
	if raw.ModelHigh != "" {
		c.ModelHigh = raw.ModelHigh
	}
	if raw.ModelFast != "" {
		c.ModelFast = raw.ModelFast
	}
	if raw.MaxRetries != 0 {
		c.MaxRetries = raw.MaxRetries
	}
	if err := setDuration(&c.Timeout, raw.Timeout); err != nil {
		return err
	}
	return setDuration(&c.RetryBase, raw.RetryBase)
}

func (c *PipelineConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		StageTimeout string `yaml:"stage_timeout"`
		TipTimeout   string `yaml:"tip_timeout"`
		DemoMode     *bool  `yaml:"demo_mode"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.DemoMode != nil {
		c.DemoMode = *raw.DemoMode
	}
	if err := setDuration(&c.StageTimeout, raw.StageTimeout); err != nil {
		return err
	}
	return setDuration(&c.TipTimeout, raw.TipTimeout)
}

// Default returns the configuration used when no file is present. Memory
// backends and the stub oracle, so a bare checkout runs with no services.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{Mode: DBModeMemory},
		Queue:    QueueConfig{Mode: QueueModeMemory, Concurrency: 4},
		Oracle: OracleConfig{
			ToolMode:   ToolModeStub,
			ModelHigh:  "gpt-4o",
			ModelFast:  "gpt-4o-mini",
			Timeout:    60 * time.Second,
			RetryBase:  2 * time.Second,
			MaxRetries: 3,
		},
		Pipeline: PipelineConfig{
			StageTimeout: 90 * time.Second,
			TipTimeout:   10 * time.Minute,
		},
	}
}

// Load reads the YAML file at path (when it exists), then applies .env and
// process environment overrides. Missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	// .env is optional; real env vars still win below.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NODE_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("DB_MODE"); v != "" {
		c.Database.Mode = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("QUEUE_MODE"); v != "" {
		c.Queue.Mode = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Queue.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Queue.RedisPass = v
	}
	if v := os.Getenv("TOOL_MODE"); v != "" {
		c.Oracle.ToolMode = v
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv("ORACLE_BASE_URL"); v != "" {
		c.Oracle.BaseURL = v
	}
	if v := os.Getenv("DEMO_MODE"); v != "" {
		c.Pipeline.DemoMode = truthy(v)
	}
	if v := os.Getenv("OFFLINE_MODE"); v != "" {
		c.Offline.Enabled = truthy(v)
	}
	if v := os.Getenv("OFFLINE_HASH_DB_PATH"); v != "" {
		c.Offline.HashDBPath = v
	}
}

// Validate rejects mode combinations the service cannot honor.
func (c *Config) Validate() error {
	switch c.Database.Mode {
	case DBModeMemory:
	case DBModePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DB_MODE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown DB_MODE %q", c.Database.Mode)
	}

	switch c.Queue.Mode {
	case QueueModeMemory:
	case QueueModeDurable:
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("QUEUE_MODE=durable requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown QUEUE_MODE %q", c.Queue.Mode)
	}

	switch c.Oracle.ToolMode {
	case ToolModeStub:
	case ToolModeReal:
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("TOOL_MODE=real requires ORACLE_API_KEY")
		}
	default:
		return fmt.Errorf("unknown TOOL_MODE %q", c.Oracle.ToolMode)
	}

	// Demo shortcuts skip persistence guarantees, so they stay off real DBs.
	if c.Pipeline.DemoMode && c.Database.Mode == DBModePostgres {
		return fmt.Errorf("DEMO_MODE is not supported with DB_MODE=postgres")
	}

	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 4
	}
	return nil
}

// IsTest reports whether the service runs under the test environment, which
// unlocks the state-reset endpoint.
func (c *Config) IsTest() bool {
	return c.Env == "test"
}

func truthy(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	}
	return false
}
