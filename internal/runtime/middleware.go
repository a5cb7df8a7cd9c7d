package runtime

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/szaher/designs/listingmock/internal/telemetry"
)

// requestInfo is shared between the outer middleware and the routed handler
// so the access log can name the route that served the request.
type requestInfo struct {
	route string
}

type requestInfoKey struct{}

func setRoute(ctx context.Context, route string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.route = route
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.status = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// observe assigns a request ID, recovers panics, and records one access log
// line and one metrics sample per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := telemetry.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		info := &requestInfo{route: "unmatched"}
		ctx = context.WithValue(ctx, requestInfoKey{}, info)
		w.Header().Set("X-Request-ID", telemetry.RequestID(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("handler panic",
					"panic", v,
					"request_id", telemetry.RequestID(ctx),
					"stack", string(debug.Stack()))
				if !rec.written {
					writeError(rec, http.StatusInternalServerError, codeInternal, "Internal server error")
				}
			}

			elapsed := time.Since(start)
			s.metrics.RecordRequest(info.route, rec.status, elapsed)
			telemetry.RequestLogger(ctx, s.logger, info.route).LogAttrs(ctx, slog.LevelInfo, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", elapsed))
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// cors answers preflight requests without authentication. With no origins
// configured every origin is allowed.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		switch {
		case len(s.corsOrigins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.corsOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			setRoute(r.Context(), "preflight")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
