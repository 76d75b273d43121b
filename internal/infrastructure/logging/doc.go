// Package logging provides structured logging for HomeLink Core.
//
// It wraps log/slog so every component logs with the same default
// fields (service, version) and level filtering.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("mqtt").Info("connected", "broker", addr)
//
// Never log bearer tokens or broker credentials.
package logging
