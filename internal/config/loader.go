// Package config loads daemon configuration from a file, the environment and
// a .env file. Command-line flags are applied on top by cmd/botd.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BOTD_"

const (
	DefaultHost             = "127.0.0.1"
	DefaultRecycleThreshold = 30
	DefaultCandidates       = 5
	DefaultEngine           = "llama"
	DefaultLlamaCtx         = 1024
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Host      string `json:"host" yaml:"host" toml:"host" env:"HOST"`
	Port      int    `json:"port" yaml:"port" toml:"port" env:"PORT"`
	AdminAddr string `json:"admin_addr" yaml:"admin_addr" toml:"admin_addr" env:"ADMIN_ADDR"`

	CheckpointDir string `json:"checkpoint_dir" yaml:"checkpoint_dir" toml:"checkpoint_dir" env:"CHECKPOINT_DIR"`
	ModelDir      string `json:"model_dir" yaml:"model_dir" toml:"model_dir" env:"MODEL_DIR"`
	RunName       string `json:"run_name" yaml:"run_name" toml:"run_name" env:"RUN_NAME"`

	RecycleThreshold      int    `json:"recycle_threshold" yaml:"recycle_threshold" toml:"recycle_threshold" env:"RECYCLE_THRESHOLD"`
	Candidates            int    `json:"candidates" yaml:"candidates" toml:"candidates" env:"CANDIDATES"`
	Seed                  uint64 `json:"seed" yaml:"seed" toml:"seed" env:"SEED"`
	RequestTimeoutSeconds int64  `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds" env:"REQUEST_TIMEOUT_SECONDS"`

	Engine       string `json:"engine" yaml:"engine" toml:"engine" env:"ENGINE"`
	EngineURL    string `json:"engine_url" yaml:"engine_url" toml:"engine_url" env:"ENGINE_URL"`
	EngineAPIKey string `json:"engine_api_key" yaml:"engine_api_key" toml:"engine_api_key" env:"ENGINE_API_KEY"`
	LlamaCtx     int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx" env:"LLAMA_CTX"`
	LlamaThreads int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads" env:"LLAMA_THREADS"`

	// spawn engine: llama-server binary and extra arguments
	LlamaServerBin  string   `json:"llama_server_bin" yaml:"llama_server_bin" toml:"llama_server_bin" env:"LLAMA_SERVER_BIN"`
	LlamaServerArgs []string `json:"llama_server_args" yaml:"llama_server_args" toml:"llama_server_args" env:"LLAMA_SERVER_ARGS" envSeparator:","`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"CORS_ENABLED"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv overlays BOTD_* environment variables onto cfg. Variables from
// dotenv are added to the environment first without overriding ones already
// set. An empty dotenv means ".env" in the working directory, which may be
// absent; an explicit path must exist.
func LoadEnv(cfg *Config, dotenv string) error {
	if dotenv == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(dotenv); err != nil {
		return fmt.Errorf("load %s: %w", dotenv, err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// ApplyDefaults fills unspecified optional fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.RecycleThreshold == 0 {
		c.RecycleThreshold = DefaultRecycleThreshold
	}
	if c.Candidates == 0 {
		c.Candidates = DefaultCandidates
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.LlamaCtx == 0 {
		c.LlamaCtx = DefaultLlamaCtx
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Validate reports every problem at once. The checkpoint directory, model
// directory, run name and port are required.
func (c Config) Validate() error {
	var errs []error
	if c.CheckpointDir == "" {
		errs = append(errs, errors.New("checkpoint_dir is required"))
	}
	if c.ModelDir == "" {
		errs = append(errs, errors.New("model_dir is required"))
	}
	if c.RunName == "" {
		errs = append(errs, errors.New("run_name is required"))
	}
	if c.Port == 0 {
		errs = append(errs, errors.New("port is required"))
	} else if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.RecycleThreshold < 1 {
		errs = append(errs, fmt.Errorf("recycle_threshold must be positive, got %d", c.RecycleThreshold))
	}
	if c.Candidates < 1 {
		errs = append(errs, fmt.Errorf("candidates must be positive, got %d", c.Candidates))
	}
	if c.RequestTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("request_timeout_seconds must not be negative, got %d", c.RequestTimeoutSeconds))
	}
	switch c.Engine {
	case "", "llama":
	case "openai":
		if c.EngineURL == "" {
			errs = append(errs, errors.New("engine_url is required for the openai engine"))
		}
	case "spawn":
		if c.LlamaServerBin == "" {
			errs = append(errs, errors.New("llama_server_bin is required for the spawn engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q", c.Engine))
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ListenAddr is the generation listener address.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
