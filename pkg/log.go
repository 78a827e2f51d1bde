package pkg

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component identifies a subsystem for log filtering.
type Component string

// Component identifiers.
const (
	ComponentTransport Component = "transport"
	ComponentFramer    Component = "framer"
	ComponentProtocol  Component = "protocol"
	ComponentEngine    Component = "engine"
	ComponentDevice    Component = "device"
	ComponentRecorder  Component = "recorder"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Console format (default)
	LogFormatJSON                  // JSON format
)

var (
	// defaultLogger is the root logger used by all components.
	defaultLogger *zap.Logger

	// logLevel controls the minimum log level.
	logLevel = zap.NewAtomicLevelAt(zapcore.WarnLevel)

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	defaultLogger = NewLogger(zapcore.Lock(os.Stderr), LogFormatText)
}

// SetLogLevel sets the minimum log level for all logging.
func SetLogLevel(level zapcore.Level) {
	logLevel.SetLevel(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() zapcore.Level {
	return logLevel.Level()
}

// SetLogger replaces the root logger.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logMutex.Lock()
	defer logMutex.Unlock()
	defaultLogger = logger
}

// Logger returns the root logger tagged with the given component.
func Logger(component Component) *zap.Logger {
	logMutex.RLock()
	logger := defaultLogger
	logMutex.RUnlock()
	return logger.With(zap.String("component", string(component)))
}

// NewLogger creates a logger writing to w in the given format.
// The logger honors the level set by [SetLogLevel].
func NewLogger(w zapcore.WriteSyncer, format LogFormat) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch format {
	case LogFormatJSON:
		enc = zapcore.NewJSONEncoder(cfg)
	default:
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	return zap.New(zapcore.NewCore(enc, w, logLevel))
}

// NewWriterLogger is a convenience for [NewLogger] over a plain writer.
func NewWriterLogger(w io.Writer, format LogFormat) *zap.Logger {
	return NewLogger(zapcore.AddSync(w), format)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, fields ...zap.Field) {
	Logger(component).Debug(msg, fields...)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, fields ...zap.Field) {
	Logger(component).Info(msg, fields...)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, fields ...zap.Field) {
	Logger(component).Warn(msg, fields...)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, fields ...zap.Field) {
	Logger(component).Error(msg, fields...)
}
