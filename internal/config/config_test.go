package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GRADEPROBE_CLASSPATH", "")
	t.Setenv("JAVA_BASE_JMOD", "")
	t.Setenv("JAVA_HOME", "")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), DefaultFile)
	data := `
classpath: build/classes
caller_package: demo
denied_packages: ["java."]
max_frame_depth: 64
logging:
  level: debug
report:
  url: https://grader.example/reports
  timeout: 5s
  format: yaml
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "build/classes", cfg.ClassPath)
	assert.Equal(t, "demo", cfg.CallerPackage)
	assert.Equal(t, []string{"java."}, cfg.DeniedPackages)
	assert.Equal(t, 64, cfg.MaxFrameDepth)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://grader.example/reports", cfg.Report.URL)
	assert.Equal(t, 5*time.Second, cfg.Report.Timeout)
	assert.Equal(t, "yaml", cfg.Report.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("classpath: [unterminated"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("classpath and jmod", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GRADEPROBE_CLASSPATH", "/submissions/alice")
		t.Setenv("JAVA_BASE_JMOD", "/opt/jdk/jmods/java.base.jmod")
		t.Setenv("JAVA_HOME", "/usr/lib/jvm/other")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/submissions/alice", cfg.ClassPath)
		assert.Equal(t, "/opt/jdk/jmods/java.base.jmod", cfg.Jmod)
	})

	t.Run("java home fallback", func(t *testing.T) {
		clearEnv(t)
		home := t.TempDir()
		jmod := filepath.Join(home, "jmods", "java.base.jmod")
		require.NoError(t, os.MkdirAll(filepath.Dir(jmod), 0o755))
		require.NoError(t, os.WriteFile(jmod, nil, 0o644))
		t.Setenv("JAVA_HOME", home)

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, jmod, cfg.Jmod)
	})

	t.Run("java home without jmods", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JAVA_HOME", t.TempDir())

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Empty(t, cfg.Jmod)
	})

	t.Run("configured jmod wins over java home", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JAVA_HOME", "/usr/lib/jvm/jdk-21")

		cfg := DefaultConfig()
		cfg.Jmod = "/custom/java.base.jmod"
		cfg.applyEnvOverrides()
		assert.Equal(t, "/custom/java.base.jmod", cfg.Jmod)
	})

	t.Run("empty values are ignored", func(t *testing.T) {
		clearEnv(t)

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, ".", cfg.ClassPath)
		assert.Empty(t, cfg.Jmod)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero frame depth", func(c *Config) { c.MaxFrameDepth = 0 }, "max_frame_depth"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid logging level"},
		{"bad format", func(c *Config) { c.Report.Format = "xml" }, "invalid report format: xml"},
		{"cert without key", func(c *Config) { c.Report.Cert = "client.pem" }, "cert and key"},
		{"negative timeout", func(c *Config) { c.Report.Timeout = -time.Second }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()

	logger, err := cfg.NewLogger(false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = cfg.NewLogger(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	cfg.Logging.Level = "nope"
	_, err = cfg.NewLogger(false)
	assert.Error(t, err)
}
