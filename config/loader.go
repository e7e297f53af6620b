// Package config provides configuration loading and parsing functionality
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
	FormatTOML ConfigFormat = "toml"
)

// FormatOf determines the configuration format from a file extension
func FormatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// Loader handles configuration loading from files and the environment
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{".", "./config", "/etc/raft"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".raft"))
	}
	return &Loader{
		searchPaths:   paths,
		envPrefix:     "RAFT",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file, or discovers one in the
// search paths when filename is empty.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.AutoLoad()
	}
	return l.LoadFromFile(filename)
}

// LoadFromFile loads configuration from a specific file. Fields the file
// leaves out keep their default values; environment overrides apply last.
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	format, err := FormatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return l.finish(config)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad automatically discovers and loads configuration. Without a
// configuration file the defaults plus environment overrides are used.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.FindConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.LoadFromFile(configFile)
}

// FindConfigFile searches for a configuration file in the search paths
func (l *Loader) FindConfigFile() (string, error) {
	filenames := []string{"raft.yaml", "raft.yml", "raft.toml", "raft.json"}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	return l.defaultConfig.Clone()
}

// finish applies environment overrides and validates
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// parseConfig decodes data on top of a copy of the defaults, so absent
// fields keep their default values.
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()

	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, config)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(config)
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.Decode(string(data), config)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys %v", undecoded)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigParseError, format, err)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	get := func(key string) (string, bool) {
		val, ok := os.LookupEnv(l.envPrefix + "_" + key)
		return val, ok && val != ""
	}

	// App configuration
	if val, ok := get("APP_NAME"); ok {
		config.App.Name = val
	}
	if val, ok := get("APP_ENVIRONMENT"); ok {
		config.App.Environment = Environment(val)
	}

	// Log configuration
	if val, ok := get("LOG_LEVEL"); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val, ok := get("LOG_FORMAT"); ok {
		config.Log.Format = val
	}
	if val, ok := get("LOG_OUTPUT"); ok {
		config.Log.Output = val
	}
	if val, ok := get("LOG_JOURNAL"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return envError("LOG_JOURNAL", err)
		}
		config.Log.Journal = b
	}

	// Runtime configuration
	if val, ok := get("SCHEDULER_WORKERS"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("SCHEDULER_WORKERS", err)
		}
		config.Scheduler.Workers = n
	}
	if val, ok := get("SCHEDULER_FAIRNESS_BUDGET"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("SCHEDULER_FAIRNESS_BUDGET", err)
		}
		config.Scheduler.FairnessBudget = n
	}
	if val, ok := get("HEAP_GC_THRESHOLD"); ok {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return envError("HEAP_GC_THRESHOLD", err)
		}
		config.Heap.GCThreshold = n
	}

	// Supervisor configuration
	if val, ok := get("SUPERVISOR_STRATEGY"); ok {
		config.Supervisor.Strategy = val
	}
	if val, ok := get("SUPERVISOR_MAX_RESTARTS"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("SUPERVISOR_MAX_RESTARTS", err)
		}
		config.Supervisor.MaxRestarts = n
	}
	if val, ok := get("SUPERVISOR_RESTART_WINDOW"); ok {
		var d Duration
		if err := d.UnmarshalText([]byte(val)); err != nil {
			return envError("SUPERVISOR_RESTART_WINDOW", err)
		}
		config.Supervisor.RestartWindow = d
	}

	// Module search path, separated like PATH
	if val, ok := get("MODULE_PATH"); ok {
		config.Module.SearchPaths = filepath.SplitList(val)
	}

	return nil
}

func envError(key string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrEnvironmentVarError, key, err)
}

// ResolveModule finds a bytecode file. Absolute paths and paths that exist
// relative to the working directory are returned as they are; otherwise each
// search path is tried in order.
func (c *Config) ResolveModule(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%w: %s", ErrModuleNotFound, name)
		}
		return name, nil
	}
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	for _, dir := range c.Module.SearchPaths {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}
