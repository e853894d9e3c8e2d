package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

type Config struct {
	Input   Input   `yaml:"input"`
	Output  Output  `yaml:"output"`
	Scan    Scan    `yaml:"scan"`
	Watch   Watch   `yaml:"watch"`
	Report  Report  `yaml:"report"`
	Logging Logging `yaml:"logging"`
	Metrics Metrics `yaml:"metrics"`
}

// Input selects the files handed to the decoder.
type Input struct {
	Paths     []string `yaml:"paths"`     // files or directories
	Recursive bool     `yaml:"recursive"` // descend into subdirectories
	MaxSize   int64    `yaml:"max_size"`  // bytes; larger files are skipped
}

// Output controls where recovered payloads are persisted.
type Output struct {
	Dir       string `yaml:"dir"`
	Compress      string `yaml:"compress"`       // none | lz4 | zlib
	CompressLevel string `yaml:"compress_level"` // fastest | fast | default | slow | slowest
	KeepMeta      bool   `yaml:"keep_meta"`      // also write the whole decrypted buffer
	Overwrite     bool   `yaml:"overwrite"`
}

type Scan struct {
	Workers int `yaml:"workers"`
}

type Watch struct {
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

type Report struct {
	Format string `yaml:"format"` // json | yaml
}

type Logging struct {
	Level string `yaml:"level"`
}

type Metrics struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

const (
	DefaultMaxSize  = 256 << 20
	DefaultWorkers  = 4
	DefaultDebounce = "500ms"
)

// Load reads, defaults and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and no inputs.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Input.MaxSize == 0 {
		c.Input.MaxSize = DefaultMaxSize
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "."
	}
	c.Output.Compress = strings.ToLower(strings.TrimSpace(c.Output.Compress))
	if c.Output.Compress == "" {
		c.Output.Compress = "none"
	}
	c.Output.CompressLevel = strings.ToLower(strings.TrimSpace(c.Output.CompressLevel))
	if c.Output.CompressLevel == "" {
		c.Output.CompressLevel = "default"
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = DefaultWorkers
	}
	if c.Watch.Debounce == "" {
		c.Watch.Debounce = DefaultDebounce
	}
	c.Report.Format = strings.ToLower(strings.TrimSpace(c.Report.Format))
	if c.Report.Format == "" {
		c.Report.Format = "json"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	var allErrors []error

	if c.Input.MaxSize < 0 {
		allErrors = append(allErrors, fmt.Errorf("input.max_size must not be negative"))
	}
	for i, p := range c.Input.Paths {
		if strings.TrimSpace(p) == "" {
			allErrors = append(allErrors, fmt.Errorf("input.paths[%d] is empty", i))
		}
	}
	switch c.Output.Compress {
	case "none", "lz4", "zlib":
	default:
		allErrors = append(allErrors, fmt.Errorf("output.compress must be one of none, lz4, zlib (got %q)", c.Output.Compress))
	}
	switch c.Output.CompressLevel {
	case "fastest", "fast", "default", "slow", "slowest":
	default:
		allErrors = append(allErrors, fmt.Errorf("output.compress_level must be one of fastest, fast, default, slow, slowest (got %q)", c.Output.CompressLevel))
	}
	if c.Scan.Workers > 256 {
		allErrors = append(allErrors, fmt.Errorf("scan.workers must be <= 256 (got %d)", c.Scan.Workers))
	}
	if d, err := time.ParseDuration(c.Watch.Debounce); err != nil || d < 0 {
		allErrors = append(allErrors, fmt.Errorf("watch.debounce %q is not a valid duration", c.Watch.Debounce))
	}
	if c.Watch.Enabled && len(c.Input.Paths) == 0 {
		allErrors = append(allErrors, fmt.Errorf("watch.enabled requires at least one input.paths entry"))
	}
	switch c.Report.Format {
	case "json", "yaml":
	default:
		allErrors = append(allErrors, fmt.Errorf("report.format must be json or yaml (got %q)", c.Report.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		allErrors = append(allErrors, fmt.Errorf("logging.level must be debug, info, warn or error (got %q)", c.Logging.Level))
	}

	return writeErr(allErrors)
}

// DebounceDuration returns watch.debounce parsed, falling back to the default.
func (c *Config) DebounceDuration() time.Duration {
	return parseDurationOr(c.Watch.Debounce, 500*time.Millisecond)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func writeErr(allErrors []error) error {
	if len(allErrors) == 0 {
		return nil
	}
	messages := make([]string, 0, len(allErrors))
	for _, err := range allErrors {
		messages = append(messages, err.Error())
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}
