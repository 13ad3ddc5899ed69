// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("kernel booted", zap.String("boot_id", id))
//	logger.Error("registration failed", zap.Error(err))
package logging
