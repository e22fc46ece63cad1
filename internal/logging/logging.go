// Package logging provides structured logging for a MeshCore node.
package logging

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component returns logger tagged with a component name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(KeyComponent, name)
}

// hexValue defers hex encoding until a handler actually formats the record,
// so disabled debug logs cost nothing on the receive path.
type hexValue []byte

func (h hexValue) LogValue() slog.Value {
	return slog.StringValue(hex.EncodeToString(h))
}

// Hex returns an attribute that renders b as lowercase hex.
func Hex(key string, b []byte) slog.Attr {
	return slog.Any(key, hexValue(b))
}

// Common attribute keys for consistent logging.
const (
	KeyComponent   = "component"
	KeyError       = "error"
	KeyAddress     = "address"
	KeyTransport   = "transport"
	KeyRemoteAddr  = "remote_addr"
	KeyDuration    = "duration"
	KeyCount       = "count"
	KeyPayloadType = "payload_type"
	KeyRoute       = "route"
	KeyPathLen     = "path_len"
	KeyLength      = "length"
	KeyReason      = "reason"
	KeyState       = "state"
	KeyContact     = "contact"
	KeyChannel     = "channel"
	KeyNodeHash    = "node_hash"
	KeyPublicKey   = "public_key"
	KeyName        = "name"
	KeyAckHash     = "ack_hash"
	KeyPacket      = "packet"
)
