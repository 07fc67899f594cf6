// Package logging provides structured, context-aware logging for docchat.
//
// Logger wraps Zap with:
//   - a custom Trace level below Debug
//   - stdout output plus an optional OpenTelemetry log bridge
//   - request id and trace correlation pulled from context
//   - redaction of sensitive field names and value patterns
//   - level-aware sampling where errors are never dropped
//
// Create a logger from config and log with the request context:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, "req-42")
//	logger.Info(ctx, "document inserted", zap.String("document_id", id))
//
// Tests use NewTestLogger, which records entries for assertions:
//
//	tl := logging.NewTestLogger()
//	svc := documents.NewCoordinator(..., tl.Logger)
//	tl.AssertLogged(t, zapcore.InfoLevel, "document inserted")
package logging
