// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName        = errors.New("invalid application name")
	ErrInvalidEnvironment    = errors.New("invalid environment")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidLogFormat      = errors.New("invalid log format")
	ErrInvalidWorkers        = errors.New("invalid worker count")
	ErrInvalidFairnessBudget = errors.New("invalid fairness budget")
	ErrInvalidGCThreshold    = errors.New("invalid gc threshold")
	ErrInvalidStrategy       = errors.New("invalid supervisor strategy")
	ErrInvalidMaxRestarts    = errors.New("invalid max restarts")
	ErrInvalidRestartWindow  = errors.New("invalid restart window")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrModuleNotFound      = errors.New("bytecode module not found")
)
