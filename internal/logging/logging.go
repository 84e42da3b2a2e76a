// Package logging wraps zap for the output store: one process-wide logger,
// per-operation loggers carried in the context, and an HTTP access log.
package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
)

// RequestIDHeader is read from incoming requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

var base = zap.NewNop()

// Config selects level, encoding and destination.
type Config struct {
	Level      string // debug, info, warn, error; info if unparsable
	Format     string // "console" or "json"
	OutputPath string // stdout, stderr or a file path
	Service    string // added to every entry when set
}

// Init builds the process logger. Until it is called nothing is logged.
func Init(cfg Config) error {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Service != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.Service)))
	}
	l, err := zc.Build(opts...)
	if err != nil {
		return err
	}
	base = l
	return nil
}

// InitNop discards all output.
func InitNop() { base = zap.NewNop() }

// Sync flushes buffered entries.
func Sync() error { return base.Sync() }

// L returns the process logger.
func L() *zap.Logger { return base }

// Info logs on the process logger.
func Info(msg string, fields ...zap.Field) { base.Info(msg, fields...) }

// Error logs on the process logger.
func Error(msg string, fields ...zap.Field) { base.Error(msg, fields...) }

// WithContext returns the logger stored in ctx, or the process logger.
func WithContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return base
}

// WithFields returns a context whose logger carries fields in addition to
// those already in ctx.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, loggerKey, WithContext(ctx).With(fields...))
}

// RequestID returns the id Middleware assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Observer receives the outcome of every request Middleware served.
type Observer func(r *http.Request, status int, d time.Duration)

type recorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rec *recorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

// Middleware tags each request with an id (kept from RequestIDHeader when
// the client sent one), makes a logger carrying it available through
// WithContext, and writes one access line per request.
func Middleware(next http.Handler, observe Observer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = WithFields(ctx, zap.String("request_id", id))
		r = r.WithContext(ctx)

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		d := time.Since(start)
		WithContext(ctx).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Int64("bytes", rec.written),
			zap.Duration("duration", d),
		)
		if observe != nil {
			observe(r, rec.status, d)
		}
	})
}
