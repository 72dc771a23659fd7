package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server for the issuance and verification binaries.
// Handler-level timeouts bound the work; these only guard the connection
// against slow clients.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
