package httpserver

import (
	"net/http"
	"time"
)

// New wraps the handler in a server with a bounded header read window.
// Per-request deadlines live in the router's timeout middleware.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
