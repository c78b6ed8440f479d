package handler

import (
	"net/http"
)

// ServeHealthz reports whether the hub is still running.
func ServeHealthz(stopped <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-stopped:
			http.Error(w, "hub stopped", http.StatusServiceUnavailable)
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("ok"))
		}
	}
}
