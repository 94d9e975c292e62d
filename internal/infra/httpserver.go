package infra

import (
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"time"
)

// maxHeaderBytes bounds request headers; uploads travel in the body.
const maxHeaderBytes = 64 << 10

// HTTPServer owns the API listener. Requests see a base context that is
// cancelled when Shutdown starts, so long handlers stop with the process.
type HTTPServer struct {
	server *http.Server
	cancel context.CancelFunc
}

// NewHTTPServer configures timeouts from cfg and routes net/http's own error
// log through logger.
func NewHTTPServer(cfg *Config, handler http.Handler, logger Logger) *HTTPServer {
	base, cancel := context.WithCancel(context.Background())
	errLogger := logger.With().Str("component", "http.server").Logger()
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
		ErrorLog:          stdlog.New(errLogger, "", 0),
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	return &HTTPServer{server: srv, cancel: cancel}
}

// Start listens on the configured port and blocks. A graceful shutdown is not
// reported as an error.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *HTTPServer) Serve(ln net.Listener) error {
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, cancels in-flight request contexts
// and waits for handlers to return or ctx to expire.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}
