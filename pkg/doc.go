// Package pkg provides shared utilities for the g2link driver.
//
// This package contains common functionality used by the transport,
// framer, protocol and engine packages, including:
//
//   - Structured logging via [go.uber.org/zap]
//   - Sentinel error types for transport, framing, protocol and sync errors
//   - Component identifiers for log filtering
//   - The response [Status] byte and its error mapping
//
// # Logging
//
// The logging subsystem wraps zap with per-component context:
//
//	pkg.SetLogLevel(zapcore.DebugLevel)
//	pkg.LogInfo(pkg.ComponentEngine, "patch loaded", zap.Int("modules", 3))
//
// # Errors
//
// Errors are defined as sentinel values and wrapped with context:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // Retry at the caller's discretion
//	}
package pkg
