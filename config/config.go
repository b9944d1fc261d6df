package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config is the server-side configuration for the analysis pipeline,
// loaded from viper (yaml file + env + flags).
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DBDir      string `mapstructure:"db_dir"`

	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Jobs     JobConfig      `mapstructure:"jobs"`
}

// WatcherConfig tunes the file-watch event batcher.
type WatcherConfig struct {
	// DebounceWindow is how long a batch stays open after the last event.
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	// BatchWindow caps how long a batch can stay open overall.
	BatchWindow time.Duration `mapstructure:"batch_window"`
	// MaxBatchSize flushes the batch early once reached.
	MaxBatchSize int `mapstructure:"max_batch_size"`
	// CoolDown suppresses repeat requests for the same repo.
	CoolDown      time.Duration `mapstructure:"cool_down"`
	IgnoreGlobs   []string      `mapstructure:"ignore_globs"`
	SourceExts    []string      `mapstructure:"source_extensions"`
}

// ExecutorConfig tunes subprocess execution.
type ExecutorConfig struct {
	// PoolSize caps concurrent tool subprocesses system-wide.
	PoolSize       int           `mapstructure:"pool_size"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// MaxOutputBytes bounds captured stdout/stderr per stream.
	MaxOutputBytes int    `mapstructure:"max_output_bytes"`
	RulesetPath    string `mapstructure:"ruleset_path"`
}

// JobConfig tunes the registry's retry policy.
type JobConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// SetDefaults registers the default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_dir", "")

	v.SetDefault("watcher.debounce_window", 2*time.Second)
	v.SetDefault("watcher.batch_window", 30*time.Second)
	v.SetDefault("watcher.max_batch_size", 50)
	v.SetDefault("watcher.cool_down", 60*time.Second)
	v.SetDefault("watcher.ignore_globs", []string{
		"**/.git/**", "**/node_modules/**", "**/vendor/**", "**/dist/**",
		"**/__pycache__/**", "**/*.log", "**/*.tmp",
	})
	v.SetDefault("watcher.source_extensions", []string{
		".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".rb", ".rs",
		".c", ".cc", ".cpp", ".h", ".cs", ".php", ".swift", ".kt", ".scala",
	})

	v.SetDefault("executor.pool_size", runtime.NumCPU())
	v.SetDefault("executor.default_timeout", 120*time.Second)
	v.SetDefault("executor.max_output_bytes", 256*1024)
	v.SetDefault("executor.ruleset_path", "")

	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.backoff_base", 2*time.Second)
	v.SetDefault("jobs.backoff_max", 60*time.Second)
}

// Load unmarshals the current viper state into a Config.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Executor.PoolSize < 1 {
		cfg.Executor.PoolSize = 1
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	return cfg
}
