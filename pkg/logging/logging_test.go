package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/agentstation/mirrorsync/pkg/logging"
)

func TestDefaultLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	previous := *logging.Default()
	logging.SetDefault(logger)
	t.Cleanup(func() { logging.SetDefault(previous) })

	logging.Info().Str("owner", "Jane").Msg("info message")
	logging.Warn().Msg("warning message")

	output := buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message in output, got: %s", output)
	}
	if !strings.Contains(output, `"owner":"Jane"`) {
		t.Errorf("Expected owner field in output, got: %s", output)
	}
}

func TestContextLogger(t *testing.T) {
	testLogger := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), testLogger.Logger)
	ctx = logging.WithRunID(ctx, "run-42")
	ctx = logging.WithPass(ctx, "forward")
	ctx = logging.WithOwner(ctx, "Jane")
	ctx = logging.WithRecord(ctx, "Alpha")

	logging.FromContext(ctx).Info().Msg("synced")

	testLogger.AssertContains(t, `"run_id":"run-42"`)
	testLogger.AssertContains(t, `"pass":"forward"`)
	testLogger.AssertContains(t, `"owner":"Jane"`)
	testLogger.AssertContains(t, `"record":"Alpha"`)
	if got := len(testLogger.Lines()); got != 1 {
		t.Errorf("Expected 1 log line, got %d", got)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	if logging.FromContext(nil) != logging.Default() {
		t.Error("Expected default logger for nil context")
	}
	if logging.FromContext(context.Background()) != logging.Default() {
		t.Error("Expected default logger for empty context")
	}
}

func TestNewLoggerFromConfigLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}

	oldLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(oldLevel) })

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := logging.NewLoggerFromConfig(&logging.Config{Level: tt.level, Format: "json", Output: "stderr"})
			if logger.GetLevel() != tt.want {
				t.Errorf("Expected level %s, got %s", tt.want, logger.GetLevel())
			}
		})
	}
}
