// Package logger provides structured logging utilities built on Go's standard slog package.
//
// Create loggers with the factory function:
//
//	log := logger.New(
//		logger.WithProduction("wsgate"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	log.Info("connection bound",
//		logger.Component("gateway"),
//		logger.UserID(conn.UserID),
//		logger.ConnID(conn.ID),
//	)
//
// Attribute helpers return an empty slog.Attr for zero values, which slog drops,
// so callers can pass logger.Error(err) without checking err first.
//
// Components that accept a logger default to Discard().
package logger
