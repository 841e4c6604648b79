package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

func logMiddleware(next http.Handler, log zerolog.Logger, corsEnabled bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		setCORSHeaders(w, corsEnabled)
		if corsEnabled && r.Method == http.MethodOptions {
			writePreflight(w)
			return
		}
		sw := newStatusResponseWriter(w)
		next.ServeHTTP(sw, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
