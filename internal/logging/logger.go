package logging

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger wraps structured logging with OpenTelemetry span correlation.
// Ported from the teacher proxy's request-scoped Logger; here it's scoped
// to a single dispatched connection rather than an http.Request.
type Logger struct {
	slogger *slog.Logger
	tracer  trace.Tracer
}

// NewLogger creates a structured logger with OpenTelemetry integration.
func NewLogger(service string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	return &Logger{
		slogger: slog.New(handler),
		tracer:  otel.Tracer(service),
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs an application error and marks the active span as errored.
// LogOutcome routes here only for an outcome that carries an error
// (MalformedRequest, DiskReadFailed, or a failed send); an Uncacheable or
// EvictionBlocked request whose send succeeds is logged at Debug.
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs and terminates the process. Reserved for the ProgrammingError
// taxonomy entry in spec.md §7 — invariant violations that indicate a bug
// rather than an expected runtime condition. Ordinary error paths use
// Error, not Fatal; genuine invariant breaks in internal/cache panic
// directly rather than going through the logger at all, since a panic
// needs to unwind regardless of what the logging layer does with it.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}

func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	attrs = append(attrs,
		slog.String("service", "filedispatch"),
		slog.Time("timestamp", time.Now()),
	)

	l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan creates a new OpenTelemetry span.
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// WithFields returns a logger with pre-configured attributes.
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
	anyAttrs := make([]any, len(attrs))
	for i, a := range attrs {
		anyAttrs[i] = a
	}
	return &Logger{
		slogger: l.slogger.With(anyAttrs...),
		tracer:  l.tracer,
	}
}

// StartConnection begins a span for one dispatched connection, the
// equivalent of the teacher's per-HTTP-request span but scoped to
// parse → resolve → send (started after the connection is dequeued)
// instead of ServeHTTP.
func (l *Logger) StartConnection(ctx context.Context, conn net.Conn) (context.Context, trace.Span) {
	return l.StartSpan(ctx, "dispatch.serve",
		attribute.String("net.peer.addr", conn.RemoteAddr().String()),
	)
}

// LogOutcome records how a dispatched connection was resolved — hit,
// miss, nocache, uncacheable, malformed, diskerror — mirroring the
// taxonomy in spec.md §7, and closes out the span's status accordingly.
func (l *Logger) LogOutcome(ctx context.Context, span trace.Span, outcome string, name string, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("outcome", outcome),
		slog.String("file", name),
		slog.Duration("duration", duration),
	}
	span.SetAttributes(
		attribute.String("fileserver.outcome", outcome),
		attribute.String("fileserver.file", name),
	)

	if err != nil {
		l.Error(ctx, fmt.Sprintf("request %s failed", outcome), err, attrs...)
		return
	}
	l.Debug(ctx, "request resolved", attrs...)
}
