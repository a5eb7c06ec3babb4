// Package observability carries the BFA's logging, metrics and tracing setup.
package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a structured zap logger on the production base.
// "debug" switches to a colorized console encoder; any other level name zap
// understands ("warn", "error", ...) only raises the threshold. Unknown
// names fall back to info.
func NewLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if lvl == zapcore.DebugLevel {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	return logger
}

type requestFieldsKey struct{}

// requestFields collects fields that handlers deeper in the chain attach to
// the access log line of their request.
type requestFields struct {
	mu     sync.Mutex
	fields []zap.Field
}

// AnnotateRequest adds fields to the access log entry of the request ctx
// belongs to. Outside ZapLoggerMiddleware it does nothing.
func AnnotateRequest(ctx context.Context, fields ...zap.Field) {
	rf, ok := ctx.Value(requestFieldsKey{}).(*requestFields)
	if !ok {
		return
	}
	rf.mu.Lock()
	rf.fields = append(rf.fields, fields...)
	rf.mu.Unlock()
}

// ZapLoggerMiddleware writes one access log entry per request: Warn for 4xx,
// Error for 5xx, Info otherwise. The entry carries the matched route
// pattern and whatever inner handlers added with AnnotateRequest.
func ZapLoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			rf := &requestFields{}
			ctx := context.WithValue(r.Context(), requestFieldsKey{}, rf)

			defer func() {
				status := ww.Status()
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(ctx)),
					zap.String("remote_addr", r.RemoteAddr),
				}
				if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
					fields = append(fields, zap.String("route", rctx.RoutePattern()))
				}
				rf.mu.Lock()
				fields = append(fields, rf.fields...)
				rf.mu.Unlock()

				switch {
				case status >= 500:
					logger.Error("http request", fields...)
				case status >= 400:
					logger.Warn("http request", fields...)
				default:
					logger.Info("http request", fields...)
				}
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

// TracingMiddleware extracts trace context from incoming requests and puts
// the caller's trace id on the access log entry.
func TracingMiddleware(next http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		propagator = propagation.TraceContext{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			AnnotateRequest(ctx, zap.String("trace_id", sc.TraceID().String()))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
