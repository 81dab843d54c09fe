package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestMiddleware counts requests by response status. The wrapped writer
// keeps http.Flusher so streamed responses are not buffered.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		})
	}
}
