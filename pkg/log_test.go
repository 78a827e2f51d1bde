package pkg

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	tests := []struct {
		name  string
		level zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestNewWriterLogger(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)
	SetLogLevel(zapcore.InfoLevel)

	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LogFormatText)
	if logger == nil {
		t.Fatal("NewWriterLogger returned nil")
	}

	logger.Info("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("log output missing message: %s", buf.String())
	}
}

func TestNewWriterLogger_JSON(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)
	SetLogLevel(zapcore.InfoLevel)

	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LogFormatJSON)
	logger.Info("test message")
	output := buf.String()
	if !strings.Contains(output, `"msg":"test message"`) {
		t.Errorf("JSON log output missing message: %s", output)
	}
}

func TestComponentLogging(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)
	SetLogLevel(zapcore.DebugLevel)

	var buf bytes.Buffer
	SetLogger(NewWriterLogger(&buf, LogFormatJSON))
	defer SetLogger(NewLogger(zapcore.Lock(zapcore.AddSync(&bytes.Buffer{})), LogFormatText))

	tests := []struct {
		name string
		log  func(Component, string, ...zap.Field)
	}{
		{"debug", LogDebug},
		{"info", LogInfo},
		{"warn", LogWarn},
		{"error", LogError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log(ComponentProtocol, "component message", zap.Int("seq", 7))
			out := buf.String()
			if !strings.Contains(out, `"component":"protocol"`) {
				t.Errorf("missing component field: %s", out)
			}
			if !strings.Contains(out, `"seq":7`) {
				t.Errorf("missing seq field: %s", out)
			}
		})
	}
}

func TestLogLevelFilters(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)
	SetLogLevel(zapcore.WarnLevel)

	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LogFormatText)
	logger.Debug("hidden")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}
}
