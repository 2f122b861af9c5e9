// Package log provides structured protocol logging for SCPI sessions.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level traffic: commands sent to the device, replies received,
// connection state changes and transport errors. It is separate from
// operational logging (slog) - protocol capture provides a complete
// machine-readable trace of a device session for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.Logger, _ = log.NewFileLogger("/var/log/oxygen/session.olog")
//
//	// Both: use MultiLogger
//	cfg.Logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    log.NewFileLogger("/var/log/oxygen/session.olog"),
//	)
//
// # Event Types
//
// Each Event carries the connection UUID and exactly one payload:
//   - Command: an outgoing command line
//   - Response: a framed device reply (large replies truncated)
//   - StateChange: connection lifecycle transitions
//   - Error: transport or decode errors
//
// # File Format
//
// Log files use CBOR encoding with .olog extension. Reader streams events
// back with optional filtering.
package log
