package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sdpower/claude-usage/internal/types"
)

const (
	DefaultBatchSize           = 10
	DefaultDedupWindowHours    = 24
	DefaultCleanupThreshold    = 10000
	DefaultMaxRestartAttempts  = 3
	DefaultUpdateChannelBuffer = 100
	DefaultKeeperPath          = "claude-keeper"
	DefaultTickInterval        = time.Second
	DefaultCostMode            = "auto"

	envPrefix = "CLAUDE_USAGE"
)

type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Live       LiveConfig       `mapstructure:"live"`
	CostMode   string           `mapstructure:"cost-mode"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ProcessingConfig struct {
	BatchSize int `mapstructure:"batch-size"`
}

type DedupConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	WindowHours      int  `mapstructure:"window-hours"`
	CleanupThreshold int  `mapstructure:"cleanup-threshold"`
}

// Window returns the dedup window as a duration.
func (d DedupConfig) Window() time.Duration {
	return time.Duration(d.WindowHours) * time.Hour
}

type PathsConfig struct {
	ClaudeHome string `mapstructure:"claude-home"`
	BackupDir  string `mapstructure:"backup-dir"`
}

type LiveConfig struct {
	MaxRestartAttempts  int           `mapstructure:"max-restart-attempts"`
	UpdateChannelBuffer int           `mapstructure:"update-channel-buffer"`
	KeeperPath          string        `mapstructure:"keeper-path"`
	TickInterval        time.Duration `mapstructure:"tick-interval"`
}

// Load reads configuration from defaults, an optional YAML file and
// CLAUDE_USAGE_* environment variables, in increasing precedence. A missing
// config file is not an error.
func Load(configPath string) (Config, error) {
	var cfg Config

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("processing.batch-size", DefaultBatchSize)
	v.SetDefault("dedup.enabled", true)
	v.SetDefault("dedup.window-hours", DefaultDedupWindowHours)
	v.SetDefault("dedup.cleanup-threshold", DefaultCleanupThreshold)
	v.SetDefault("paths.claude-home", defaultClaudeHome(home))
	v.SetDefault("paths.backup-dir", filepath.Join(home, ".claude-backup"))
	v.SetDefault("live.max-restart-attempts", DefaultMaxRestartAttempts)
	v.SetDefault("live.update-channel-buffer", DefaultUpdateChannelBuffer)
	v.SetDefault("live.keeper-path", DefaultKeeperPath)
	v.SetDefault("live.tick-interval", DefaultTickInterval)
	v.SetDefault("cost-mode", DefaultCostMode)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "claude-usage", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Paths.ClaudeHome = expandHome(cfg.Paths.ClaudeHome, home)
	cfg.Paths.BackupDir = expandHome(cfg.Paths.BackupDir, home)

	return cfg, cfg.Validate()
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.Processing.BatchSize <= 0 {
		return types.ValidationError{Field: "processing.batch-size", Message: "must be greater than 0"}
	}
	if c.Dedup.WindowHours < 0 {
		return types.ValidationError{Field: "dedup.window-hours", Message: "cannot be negative"}
	}
	if c.Dedup.CleanupThreshold <= 0 {
		return types.ValidationError{Field: "dedup.cleanup-threshold", Message: "must be greater than 0"}
	}
	if c.Live.MaxRestartAttempts < 0 {
		return types.ValidationError{Field: "live.max-restart-attempts", Message: "cannot be negative"}
	}
	if c.Live.UpdateChannelBuffer <= 0 {
		return types.ValidationError{Field: "live.update-channel-buffer", Message: "must be greater than 0"}
	}
	if c.Live.KeeperPath == "" {
		return types.ValidationError{Field: "live.keeper-path", Message: "must not be empty"}
	}
	switch c.CostMode {
	case "auto", "calculate", "display":
	default:
		return types.ValidationError{Field: "cost-mode", Message: fmt.Sprintf("unknown mode %q", c.CostMode)}
	}
	return nil
}

// defaultClaudeHome honours CLAUDE_CONFIG_DIR and CLAUDE_HOME, then prefers
// ~/.claude over ~/.config/claude when only the latter exists.
func defaultClaudeHome(home string) string {
	for _, env := range []string{"CLAUDE_CONFIG_DIR", "CLAUDE_HOME"} {
		if dir := os.Getenv(env); dir != "" {
			return dir
		}
	}

	claudePath := filepath.Join(home, ".claude")
	if _, err := os.Stat(claudePath); err == nil {
		return claudePath
	}

	configPath := filepath.Join(home, ".config", "claude")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	return claudePath
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
