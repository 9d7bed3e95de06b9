package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"OnnxClsServer/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath     = "configs/config.yml"
	DefaultServiceVersion = "0.0.1"
	DefaultComponentName  = "InferenceService"
	DefaultHTTPPort       = 8080
	DefaultGRPCPort       = 50051
)

type ModelConfig struct {
	Checkpoint     string `yaml:"checkpoint"`
	Device         string `yaml:"device"`
	InputSize      int    `yaml:"input_size"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
}

type RegistryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

type Config struct {
	ClassificationModel ModelConfig    `yaml:"classification_model"`
	PrometheusPort      int            `yaml:"prometheus_port"`
	ServiceVersion      string         `yaml:"service_version"`
	ComponentName       string         `yaml:"component_name"`
	HTTPPort            int            `yaml:"http_port"`
	GRPCPort            int            `yaml:"grpc_port"`
	RuntimeLibrary      string         `yaml:"runtime_library"`
	Log                 logger.Config  `yaml:"log"`
	Registry            RegistryConfig `yaml:"registry"`
}

// LoadEnv reads a .env file into the process environment when one exists.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Path returns BASE_CONFIG_PATH or the default config location.
func Path() string {
	if p := os.Getenv("BASE_CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load parses the YAML file at path, applies environment overrides and
// defaults, and fails when a required field is missing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PROMETHEUS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROMETHEUS_PORT: %w", err)
		}
		c.PrometheusPort = port
	}
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		c.ServiceVersion = v
	}
	if v := os.Getenv("COMPONENT_NAME"); v != "" {
		c.ComponentName = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ServiceVersion == "" {
		c.ServiceVersion = DefaultServiceVersion
	}
	if c.ComponentName == "" {
		c.ComponentName = DefaultComponentName
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = DefaultGRPCPort
	}
	if c.Registry.IntervalSeconds <= 0 {
		c.Registry.IntervalSeconds = 5
	}
}

func (c *Config) Validate() error {
	var missing []string
	if c.ClassificationModel.Checkpoint == "" {
		missing = append(missing, "classification_model.checkpoint")
	}
	if c.ClassificationModel.Device == "" {
		missing = append(missing, "classification_model.device")
	}
	if c.PrometheusPort == 0 {
		missing = append(missing, "prometheus_port")
	}
	if c.Registry.Enabled && c.Registry.Host == "" {
		missing = append(missing, "registry.host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	for name, port := range map[string]int{"prometheus_port": c.PrometheusPort, "http_port": c.HTTPPort, "grpc_port": c.GRPCPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s %d out of range", name, port)
		}
	}
	return nil
}
