package metrics

import (
	"io"
	"net/http"
)

// Handler returns an http.Handler that serves the registry's text
// snapshot, suitable for pull-based scraping.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, r.Export())
	})
}
