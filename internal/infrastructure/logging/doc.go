// Package logging provides structured logging for Hearth Core.
//
// It wraps log/slog with service defaults, level parsing, and optional
// rotating file output. Component loggers are derived with With:
//
//	log := logging.New(cfg.Logging, version)
//	busLog := log.With("component", "mqtt")
package logging
