// Package logging wraps zap for copyd.
//
// Loggers take a context and add correlation fields found in it: the OTel
// trace and span IDs, the acting subject (subject.user, subject.workspace),
// the request ID, and the pipeline step. The stdout encoder masks sensitive
// keys and provider-key patterns; entries below error level are sampled.
//
//	ctx = logging.WithSubject(ctx, s)
//	ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
//	logger.Info(ctx, "step completed", zap.Duration("took", d))
//
// Tests use NewTestLogger, which records entries in memory.
package logging
