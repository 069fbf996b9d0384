// Package logger builds the engine's slog loggers: JSON or text output,
// env-driven level, optional static attributes, and context extractors
// that stamp request-scoped values onto every record.
//
//	log := logger.New(
//		logger.WithAttr(slog.String("service", "quotakit")),
//		logger.WithContextValue("request_id", requestIDKey),
//	)
//	logger.SetAsDefault(log)
package logger
