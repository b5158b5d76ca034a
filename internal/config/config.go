// Package config loads gradeprobe.yaml and applies environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "gradeprobe.yaml"

// Config holds all gradeprobe configuration.
type Config struct {
	// ClassPath lists directories and jar files, separated by the OS path
	// list separator.
	ClassPath string `yaml:"classpath"`
	// Jmod is the java.base.jmod used for JDK classes the VM does not
	// provide itself. Empty means built-in classes only.
	Jmod string `yaml:"jmod"`

	CallerPackage  string   `yaml:"caller_package"`
	DeniedPackages []string `yaml:"denied_packages"`
	MaxFrameDepth  int      `yaml:"max_frame_depth"`

	Logging LoggingConfig `yaml:"logging"`
	Report  ReportConfig  `yaml:"report"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// ReportConfig configures where grading reports go.
type ReportConfig struct {
	URL     string        `yaml:"url"`
	Cert    string        `yaml:"cert"`
	Key     string        `yaml:"key"`
	CA      string        `yaml:"ca"`
	Timeout time.Duration `yaml:"timeout"`
	Format  string        `yaml:"format"` // json, yaml
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ClassPath:      ".",
		DeniedPackages: []string{"java.", "javax.", "sun.", "jdk."},
		MaxFrameDepth:  1024,
		Logging: LoggingConfig{
			Level: "info",
		},
		Report: ReportConfig{
			Timeout: 30 * time.Second,
			Format:  "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if cp := os.Getenv("GRADEPROBE_CLASSPATH"); cp != "" {
		c.ClassPath = cp
	}
	if jmod := os.Getenv("JAVA_BASE_JMOD"); jmod != "" {
		c.Jmod = jmod
	}
	if c.Jmod == "" {
		if home := os.Getenv("JAVA_HOME"); home != "" {
			p := filepath.Join(home, "jmods", "java.base.jmod")
			if _, err := os.Stat(p); err == nil {
				c.Jmod = p
			}
		}
	}
}

// ValidFormats lists the supported report formats.
var ValidFormats = []string{"json", "yaml"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxFrameDepth <= 0 {
		return fmt.Errorf("max_frame_depth must be positive, got %d", c.MaxFrameDepth)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}

	validFormat := false
	for _, f := range ValidFormats {
		if c.Report.Format == f {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return fmt.Errorf("invalid report format: %s (valid: %v)", c.Report.Format, ValidFormats)
	}
	if (c.Report.Cert == "") != (c.Report.Key == "") {
		return fmt.Errorf("report cert and key must be set together")
	}
	if c.Report.Timeout < 0 {
		return fmt.Errorf("report timeout must not be negative")
	}
	return nil
}

// NewLogger builds a logger for the logging section. verbose forces the
// debug level.
func (c *Config) NewLogger(verbose bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if c.Logging.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = []string{"stderr"}
	return zapCfg.Build()
}
