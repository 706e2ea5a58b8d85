package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"neuroforge/internal/infra/logging"
)

const traceHeader = "X-Trace-Id"

// statusWriter remembers what the handler wrote so the request log and the panic
// guard can see it.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if w.wrote {
		return
	}
	w.status = status
	w.wrote = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// observe runs inside the router. It tags the request with a trace id, turns a
// handler panic into a 500 and logs the request once routing has resolved, with
// the route pattern and the job it addressed.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(traceHeader)
		if tid == "" {
			tid = uuid.NewString()
		}
		w.Header().Set(traceHeader, tid)
		r = r.WithContext(logging.WithTraceID(r.Context(), tid))

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				logging.With(r.Context(), s.log).Error().Interface("panic", rec).
					Bytes("stack", debug.Stack()).Msg("handler panic")
				if !ww.wrote {
					writeError(ww, http.StatusInternalServerError, "internal error")
				}
			}
			s.logRequest(r, ww.status, time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) logRequest(r *http.Request, status int, d time.Duration) {
	l := logging.With(r.Context(), s.log)
	ev := l.Info()
	if status >= http.StatusInternalServerError {
		ev = l.Error()
	}
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			route = p
		}
		if id := rctx.URLParam("job_id"); id != "" {
			ev = ev.Str("job_id", id)
		}
	}
	ev.Str("method", r.Method).
		Str("route", route).
		Int("status", status).
		Dur("duration", d).
		Msg("http_request")
}

// cors allows a single browser origin with credentials. An empty origin disables it.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if origin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Origin") == origin {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
				if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
						h.Set("Access-Control-Allow-Headers", req)
					}
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
