// Package logger builds slog loggers for the relay and provides attribute
// helpers so log lines across packages share key names.
//
//	log := logger.New(
//		logger.WithProduction("docrelay"),
//		logger.WithContextExtractors(requestIDFromContext),
//	)
//
//	log.Info("document stored",
//		logger.Component("relay"),
//		logger.DocumentID(id),
//		logger.Sequence(seq),
//	)
//
// Helpers return an empty slog.Attr for zero inputs where that makes sense,
// so logger.Error(nil) is dropped by the handler instead of printing "<nil>".
//
// Context extractors run on every record logged with a *Context method and
// append request-scoped attributes such as the request id.
package logger
