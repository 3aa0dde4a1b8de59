package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if s, ok := SubjectFromContext(ctx); ok {
		fields = append(fields, zap.String("subject.user", s.UserID))
		if s.Scoped() {
			fields = append(fields, zap.String("subject.workspace", s.WorkspaceID))
		}
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if step := StepFromContext(ctx); step != "" {
		fields = append(fields, zap.String("pipeline.step", step))
	}

	return fields
}

type subjectCtxKey struct{}
type requestCtxKey struct{}
type stepCtxKey struct{}
type loggerCtxKey struct{}

const maxRequestIDLen = 128

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// WithSubject adds the acting subject to ctx.
func WithSubject(ctx context.Context, s subject.Subject) context.Context {
	return context.WithValue(ctx, subjectCtxKey{}, s)
}

// SubjectFromContext returns the subject stored by WithSubject.
func SubjectFromContext(ctx context.Context) (subject.Subject, bool) {
	s, ok := ctx.Value(subjectCtxKey{}).(subject.Subject)
	return s, ok
}

// WithRequestID adds a request ID to ctx. Request IDs can come from
// clients, so malformed values are dropped instead of logged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if len(requestID) == 0 || len(requestID) > maxRequestIDLen || !requestIDPattern.MatchString(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from ctx.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithStep records the pipeline step being served.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepCtxKey{}, step)
}

// StepFromContext extracts the pipeline step from ctx.
func StepFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(stepCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
