package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"go-realtime-bus/internal/infrastructure/config"
	"go-realtime-bus/internal/infrastructure/logger"
)

type HTTPServer struct {
	handler http.Handler
	cfg     config.ServerConfig
	logger  logger.Logger

	mu  sync.Mutex
	srv *http.Server
}

var _ Server = (*HTTPServer)(nil)

func NewHTTPServer(handler http.Handler, cfg config.ServerConfig, logger logger.Logger) *HTTPServer {
	return &HTTPServer{
		handler: handler,
		cfg:     cfg,
		logger:  logger.WithField("component", "http"),
	}
}

// Start listens on the configured address and serves until Stop is called.
// Request contexts derive from ctx.
func (h *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		return err
	}
	return h.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (h *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      h.handler,
		ReadTimeout:  h.cfg.ReadTimeout,
		WriteTimeout: h.cfg.WriteTimeout,
		IdleTimeout:  h.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	h.mu.Lock()
	h.srv = srv
	h.mu.Unlock()

	h.logger.Infof("HTTP server listening on %s", ln.Addr())

	var eg errgroup.Group
	eg.Go(func() error {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	srv := h.srv
	h.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
