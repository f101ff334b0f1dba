package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration options
type Config struct {
	// Level is the minimum log level to output
	Level string

	// Format is the output format (json, console, auto)
	Format string

	// Output is where to write logs (stderr, stdout, or file path)
	Output string

	// TimeFormat for timestamps (kitchen, rfc3339, unix)
	TimeFormat string

	// NoColor disables color output in console mode
	NoColor bool

	// AddCaller includes file:line in log output
	AddCaller bool
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "auto",
		Output:     "stderr",
		TimeFormat: "kitchen",
		NoColor:    os.Getenv("NO_COLOR") != "",
	}
}

// NewLoggerFromConfig creates a new logger from configuration
func NewLoggerFromConfig(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(getWriter(cfg)).
		Level(level).
		With().
		Timestamp().
		Logger()

	if cfg.AddCaller || level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// Configure updates the default logger with the given configuration
func Configure(cfg *Config) {
	SetDefault(NewLoggerFromConfig(cfg))
}

// getWriter returns the appropriate writer based on configuration
func getWriter(cfg *Config) io.Writer {
	var output *os.File
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "", "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			output = os.Stderr
		} else {
			output = file
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" || format == "auto" {
		format = "json"
		if fileInfo, err := output.Stat(); err == nil && output != os.Stdout && fileInfo.Mode()&os.ModeCharDevice != 0 {
			format = "console"
		}
	}

	switch format {
	case "console", "pretty":
		return zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: parseTimeFormat(cfg.TimeFormat),
			NoColor:    cfg.NoColor,
		}
	default:
		return output
	}
}

// parseLevel parses a log level string
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "warning":
		return zerolog.WarnLevel
	case "none", "off":
		return zerolog.Disabled
	}
	if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && level != "" {
		return l
	}
	return zerolog.InfoLevel
}

// parseTimeFormat parses time format configuration
func parseTimeFormat(format string) string {
	switch strings.ToLower(format) {
	case "rfc3339":
		return time.RFC3339
	case "rfc3339nano":
		return time.RFC3339Nano
	case "unix", "epoch":
		return ""
	case "", "kitchen":
		return time.Kitchen
	default:
		if strings.Contains(format, "2006") || strings.Contains(format, "15:04") {
			return format
		}
		return time.Kitchen
	}
}
