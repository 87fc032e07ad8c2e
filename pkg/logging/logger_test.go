package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Default level = %s, want %s", cfg.Level, LevelInfo)
	}
	if cfg.Pretty {
		t.Error("Default config should not be pretty")
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name    string
		level   LogLevel
		message string
	}{
		{"info_level", LevelInfo, "Client initialized"},
		{"debug_level", LevelDebug, "Payment requirement cache hit"},
		{"warn_level", LevelWarn, "Retrying request after throttling"},
		{"error_level", LevelError, "Request failed after retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Pretty: false, Output: buf})

			switch tt.level {
			case LevelDebug:
				logger.Debug().Msg(tt.message)
			case LevelInfo:
				logger.Info().Msg(tt.message)
			case LevelWarn:
				logger.Warn().Msg(tt.message)
			case LevelError:
				logger.Error().Msg(tt.message)
			}

			if output := buf.String(); !strings.Contains(output, tt.message) {
				t.Errorf("Expected output to contain %q, got %q", tt.message, output)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Pretty: false, Output: buf})

	logger := NewLogger("payment")
	logger.Info().Str("fingerprint", "a1b2c3").Msg("Challenge completed")

	output := buf.String()
	if !strings.Contains(output, `"component":"payment"`) {
		t.Errorf("Expected component field in output, got %q", output)
	}
	if !strings.Contains(output, "a1b2c3") {
		t.Errorf("Expected fingerprint field in output, got %q", output)
	}
	if !strings.Contains(output, "Challenge completed") {
		t.Errorf("Expected message in output, got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Pretty: false, Output: buf})

	logger := NewLogger("retry")

	logger.Debug().Msg("Computed backoff delay")
	logger.Info().Msg("Attempt succeeded")
	logger.Warn().Msg("Undocumented server error")
	logger.Error().Msg("Retry budget exhausted")

	output := buf.String()

	if strings.Contains(output, "Computed backoff delay") {
		t.Error("Debug message should be filtered out at Warn level")
	}
	if strings.Contains(output, "Attempt succeeded") {
		t.Error("Info message should be filtered out at Warn level")
	}
	if !strings.Contains(output, "Undocumented server error") {
		t.Error("Warn message should be included at Warn level")
	}
	if !strings.Contains(output, "Retry budget exhausted") {
		t.Error("Error message should be included at Warn level")
	}
}
