// Package rpc exposes the node's HTTP surface: submitting transactions,
// and reading back transaction, account, block and tip-height views at a
// chosen commitment level (spec §6).
package rpc

import (
	"context"
	"log"
	"net/http"
)

// Logger is the minimal logging interface handlers write through.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Server wires the five endpoints onto a stdlib http.ServeMux, matching the
// teacher's own server wiring: plain HandleFunc routes, an *http.Server for
// graceful Shutdown, no router dependency.
type Server struct {
	httpServer *http.Server
	logger     Logger
}

// NewServer builds a Server listening on addr, dispatching to handlers.
func NewServer(addr string, handlers *Handlers, logger Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[rpc] ", log.LstdFlags)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/transactions", handlers.HandleSubmitTransactions)
	mux.HandleFunc("/transaction/", handlers.HandleGetTransaction)
	mux.HandleFunc("/account/", handlers.HandleGetAccount)
	mux.HandleFunc("/info", handlers.HandleInfo)
	mux.HandleFunc("/block/", handlers.HandleGetBlock)

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: withRequestID(withLogging(mux, logger)),
		},
		logger: logger,
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down, in
// which case it returns http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("rpc: listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
