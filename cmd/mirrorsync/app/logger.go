package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/agentstation/mirrorsync/pkg/logging"
)

// NewLogger creates a configured logger based on the application configuration.
// Log level precedence (highest to lowest):
//  1. --log-level flag (explicit always wins)
//  2. -v/--verbose flag (shortcut for debug)
//  3. -q/--quiet flag (shortcut for warn)
//  4. Default (info)
//
// LOG_LEVEL reaches the config through the environment and counts as an
// explicit level.
func NewLogger(config *Config) zerolog.Logger {
	level := determineLogLevel(config)

	logConfig := &logging.Config{
		Level:     level,
		Format:    config.LogFormat,
		Output:    config.LogOutput,
		NoColor:   config.NoColor,
		AddCaller: level == "debug" || level == "trace",
	}
	return logging.NewLoggerFromConfig(logConfig)
}

// determineLogLevel determines the log level using clear precedence rules.
func determineLogLevel(config *Config) string {
	if config.LogLevel != "" {
		validated := validateLogLevel(config.LogLevel)
		if validated != config.LogLevel {
			fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using %q\n", config.LogLevel, validated)
		}
		return validated
	}

	if config.Verbose && config.Quiet {
		fmt.Fprintf(os.Stderr, "Warning: both --verbose and --quiet specified, using --quiet\n")
		return "warn"
	}
	if config.Verbose {
		return "debug"
	}
	if config.Quiet {
		return "warn"
	}
	return "info"
}

// validateLogLevel validates a log level string and returns a valid level.
// If the input is invalid, returns "info" as a safe default.
func validateLogLevel(level string) string {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return level
	}
	return "info"
}
