package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/edgeflare/radmin/pkg/httputil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResponseRecorder wraps http.ResponseWriter to capture the status code and
// whether anything reached the client.
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	// Actor is the authenticated actor id, set by the auth middleware.
	Actor string
	wrote bool
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

func (rr *ResponseRecorder) WriteHeader(statusCode int) {
	if !rr.wrote {
		rr.StatusCode = statusCode
		rr.wrote = true
	}
	rr.ResponseWriter.WriteHeader(statusCode)
}

func (rr *ResponseRecorder) Write(b []byte) (int, error) {
	rr.wrote = true
	return rr.ResponseWriter.Write(b)
}

// Written reports whether headers or body have been sent.
func (rr *ResponseRecorder) Written() bool { return rr.wrote }

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

// recorderOf finds the outermost recorder in a chain of wrapped writers.
func recorderOf(w http.ResponseWriter) *ResponseRecorder {
	for {
		switch t := w.(type) {
		case *ResponseRecorder:
			return t
		case interface{ Unwrap() http.ResponseWriter }:
			w = t.Unwrap()
		default:
			return nil
		}
	}
}

// GetLogEntryMetadata returns log metadata stored in ctx.
func GetLogEntryMetadata(ctx context.Context) map[string]any {
	if metadata, ok := ctx.Value(httputil.LogEntryCtxKey).(map[string]any); ok {
		return metadata
	}
	return nil
}

// LoggerOptions defines configuration for the logger middleware.
type LoggerOptions struct {
	Logger *zap.Logger
	Format func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field
}

var defaultLogger *zap.Logger

func init() {
	var err error
	defaultLogger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
}

// LoggerWithOptions logs one "response" entry per request.
func LoggerWithOptions(options *LoggerOptions) func(http.Handler) http.Handler {
	if options == nil {
		options = &LoggerOptions{Logger: defaultLogger}
	}
	if options.Logger == nil {
		options.Logger = defaultLogger
	}

	if options.Format == nil {
		options.Format = func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
			return []zap.Field{
				zap.String("req_id", reqID),
				zap.Int("status", rec.StatusCode),
				zap.String("method", r.Method),
				zap.String("host", r.Host),
				zap.String("url", r.URL.String()),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.Duration("latency", latency),
			}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Value(httputil.LogEntryCtxKey).(*zap.Logger); ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			reqID, ok := r.Context().Value(httputil.RequestIDCtxKey).(string)
			if !ok {
				reqID = uuid.Nil.String()
			}

			rec := NewResponseRecorder(w)
			ctx := context.WithValue(r.Context(), httputil.LogEntryCtxKey, options.Logger)
			r = r.WithContext(ctx)

			next.ServeHTTP(rec, r)

			actor := rec.Actor
			if actor == "" {
				actor = "anonymous"
			}
			fields := options.Format(reqID, rec, r, time.Since(start))
			fields = append(fields, zap.String("actor", actor))
			options.Logger.Info("response", fields...)
		})
	}
}
