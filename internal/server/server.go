// Package server assembles the HTTP handler stack.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"snapvault/internal/api"
	"snapvault/internal/observability/logging"
)

// Config controls handler assembly.
type Config struct {
	API    *api.Handler
	Logger *slog.Logger
}

// New builds the root http.Handler: the API routes wrapped in request
// logging.
func New(cfg Config) http.Handler {
	mux := http.NewServeMux()
	cfg.API.Register(mux)
	middleware := logging.RequestLogger(logging.RequestLoggerConfig{Logger: cfg.Logger})
	return middleware(mux)
}

// NewHTTPServer shapes an http.Server with the platform's standard timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
