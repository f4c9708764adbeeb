package governance

import (
	"net/http"
	"strconv"

	"github.com/cortexhub/cortexhub/internal/errs"
)

// statusRecorder captures the status code written by the wrapped
// handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware installs the pipeline over inbound HTTP dispatches,
// synthesizing request and result records from method, path, and
// status. A pre-record failure blocks the request with the taxonomy's
// HTTP mapping; the handler never runs.
func (o *Omega) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewRecord("http_request", "http", r.Method+" "+r.URL.Path, map[string]any{
			"context": map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			},
		})
		if _, err := o.Enforce(rec); err != nil {
			o.logger.Error("governance blocked http request", "path", r.URL.Path, "error", err)
			http.Error(w, err.Error(), errs.HTTPStatus(errs.KindOf(err)))
			return
		}

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		post := NewRecord("http_request", "http", r.Method+" "+r.URL.Path+"_result", map[string]any{
			"result": map[string]any{"status": strconv.Itoa(sr.status)},
		})
		if _, err := o.Enforce(post); err != nil {
			o.logger.Warn("governance http result record failed", "path", r.URL.Path, "error", err)
		}
	})
}
