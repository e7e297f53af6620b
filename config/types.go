// Package config provides configuration management for the raft runtime
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/najoast/raft/core"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Slog returns the matching slog level.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration is a time.Duration written as a string such as "5s" in every
// supported file format.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete runtime configuration
type Config struct {
	App        AppConfig        `yaml:"app" json:"app" toml:"app"`
	Log        LogConfig        `yaml:"log" json:"log" toml:"log"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler" toml:"scheduler"`
	Heap       HeapConfig       `yaml:"heap" json:"heap" toml:"heap"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor" toml:"supervisor"`
	Module     ModuleConfig     `yaml:"module" json:"module" toml:"module"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string      `yaml:"name" json:"name" toml:"name"`
	Environment Environment `yaml:"environment" json:"environment" toml:"environment"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level LogLevel `yaml:"level" json:"level" toml:"level"`

	// Format is "text" or "json"
	Format string `yaml:"format" json:"format" toml:"format"`

	// Output is "stdout", "stderr" or a file path
	Output string `yaml:"output" json:"output" toml:"output"`

	// Journal also sends records to the systemd journal when it is reachable
	Journal bool `yaml:"journal" json:"journal" toml:"journal"`
}

// SchedulerConfig contains worker pool settings
type SchedulerConfig struct {
	// Workers is the number of scheduler goroutines; zero uses one per CPU
	Workers int `yaml:"workers" json:"workers" toml:"workers"`

	// FairnessBudget is the instruction count an actor runs before yielding
	FairnessBudget int `yaml:"fairness_budget" json:"fairness_budget" toml:"fairness_budget"`
}

// HeapConfig contains heap settings
type HeapConfig struct {
	// GCThreshold is the allocation count between cycle collections; zero disables them
	GCThreshold int64 `yaml:"gc_threshold" json:"gc_threshold" toml:"gc_threshold"`
}

// SupervisorConfig is the root supervisor's restart policy
type SupervisorConfig struct {
	Strategy      string   `yaml:"strategy" json:"strategy" toml:"strategy"`
	MaxRestarts   int      `yaml:"max_restarts" json:"max_restarts" toml:"max_restarts"`
	RestartWindow Duration `yaml:"restart_window" json:"restart_window" toml:"restart_window"`
}

// ModuleConfig controls where bytecode files are looked up
type ModuleConfig struct {
	SearchPaths []string `yaml:"search_paths" json:"search_paths" toml:"search_paths"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "raft",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stderr",
		},
		Scheduler: SchedulerConfig{
			Workers:        0,
			FairnessBudget: 1000,
		},
		Heap: HeapConfig{
			GCThreshold: 10000,
		},
		Supervisor: SupervisorConfig{
			Strategy:      core.OneForOne.String(),
			MaxRestarts:   3,
			RestartWindow: Duration(5 * time.Second),
		},
		Module: ModuleConfig{
			SearchPaths: []string{"."},
		},
	}
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	out.Module.SearchPaths = append([]string(nil), c.Module.SearchPaths...)
	return &out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEnvironment, c.App.Environment)
	}

	if !c.Log.Level.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}

	if c.Scheduler.Workers < 0 {
		return ErrInvalidWorkers
	}
	if c.Scheduler.FairnessBudget <= 0 {
		return ErrInvalidFairnessBudget
	}
	if c.Heap.GCThreshold < 0 {
		return ErrInvalidGCThreshold
	}

	if _, err := core.ParseStrategy(c.Supervisor.Strategy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
	}
	if c.Supervisor.MaxRestarts < 0 {
		return ErrInvalidMaxRestarts
	}
	if c.Supervisor.RestartWindow < 0 {
		return ErrInvalidRestartWindow
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// SupervisorSpec returns the root supervisor policy
func (c *Config) SupervisorSpec() (core.SupervisorSpec, error) {
	strategy, err := core.ParseStrategy(c.Supervisor.Strategy)
	if err != nil {
		return core.SupervisorSpec{}, err
	}
	return core.SupervisorSpec{
		Strategy:    strategy,
		MaxRestarts: c.Supervisor.MaxRestarts,
		Window:      c.Supervisor.RestartWindow.Std(),
	}, nil
}

// Options builds the runtime options described by the configuration.
// A zero worker count is resolved to one worker per CPU.
func (c *Config) Options(logger *slog.Logger) (core.Options, error) {
	spec, err := c.SupervisorSpec()
	if err != nil {
		return core.Options{}, err
	}
	opts := core.DefaultOptions()
	if c.Scheduler.Workers > 0 {
		opts.Workers = c.Scheduler.Workers
	}
	opts.FairnessBudget = c.Scheduler.FairnessBudget
	opts.GCThreshold = c.Heap.GCThreshold
	opts.Supervisor = spec
	opts.Logger = logger
	return opts, nil
}
