package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kailas-cloud/pagedex/internal/domain/division"
	logpkg "github.com/kailas-cloud/pagedex/internal/logger"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

// NewRouter mounts the API behind the middleware stack: panic recovery,
// request id, one access log line per request, authentication, metrics.
func NewRouter(s *Server, auth *Authenticator, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(accessLog(logger))
	r.Use(auth.Middleware)
	r.Use(metrics.Middleware())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	s.Routes(r)
	return r
}

// jsonRecoverer turns a handler panic into a JSON 500.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(rvr)
				}
				logger.Error("Handler panic",
					zap.Any("panic", rvr),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stacktrace"),
				)
				writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestEvent gathers what inner layers learn about a request (who called,
// which division, why it failed) for the access log line.
type requestEvent struct {
	caller       string
	division     string
	unrestricted bool
	failure      string
}

type eventKey struct{}

func eventFrom(ctx context.Context) *requestEvent {
	ev, _ := ctx.Value(eventKey{}).(*requestEvent)
	return ev
}

// notePrincipal records the authenticated caller on the request event.
func notePrincipal(ctx context.Context, p division.Principal) {
	if ev := eventFrom(ctx); ev != nil {
		ev.caller, ev.division, ev.unrestricted = p.Name, p.Division, p.Unrestricted
	}
}

// noteFailure records the client-facing error message on the request event.
func noteFailure(ctx context.Context, msg string) {
	if ev := eventFrom(ctx); ev != nil {
		ev.failure = msg
	}
}

// accessLog emits one line per request once it completes, at warn for 4xx
// and error for 5xx, and echoes the request id in X-Request-ID.
func accessLog(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ev := &requestEvent{}
			ctx := context.WithValue(logpkg.ContextWithLogger(r.Context(), reqLogger), eventKey{}, ev)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := zapcore.InfoLevel
			switch {
			case status >= http.StatusInternalServerError:
				level = zapcore.ErrorLevel
			case status >= http.StatusBadRequest:
				level = zapcore.WarnLevel
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
				zap.String("remote", r.RemoteAddr),
			}
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				fields = append(fields, zap.String("route", rc.RoutePattern()))
			}
			if ev.caller != "" {
				fields = append(fields, zap.String("caller", ev.caller))
			}
			if ev.division != "" || ev.unrestricted {
				fields = append(fields, zap.String("division", ev.division), zap.Bool("unrestricted", ev.unrestricted))
			}
			if ev.failure != "" {
				fields = append(fields, zap.String("failure", ev.failure))
			}
			reqLogger.Log(level, "http_request", fields...)
		})
	}
}
