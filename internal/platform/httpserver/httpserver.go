package httpserver

import (
	"net/http"
	"time"
)

// New builds the custodia API server. Compliance queries can page through
// large audit ranges, so the write timeout is generous relative to the
// header and idle limits.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
