package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"go-realtime-bus/internal/application/facade"
	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/config"
	"go-realtime-bus/internal/infrastructure/hub"
	"go-realtime-bus/internal/infrastructure/logger"
	"go-realtime-bus/internal/infrastructure/server"
	"go-realtime-bus/internal/infrastructure/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config file (default $"+config.EnvVar+")")
	addr := pflag.String("addr", "", "listen address, overrides server.addr")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.NewLogrusLogger(cfg.Logger)

	ctx := context.Background()
	sctx := WithSignal(ctx)

	hubInstance := hub.New(log, hubConfig(cfg.Hub))
	hubInstance.HandleInbound(func(conn hub.Connection, env envelope.Envelope) {
		log.Debugf("Inbound %s envelope from %s (user %d)", env.Type, conn.ID(), conn.Session().UserID)
	})

	// Start the hub first so the first upgrade finds it running
	if err := hubInstance.Start(ctx); err != nil {
		log.Errorf("failed to start hub: %v", err)
		return
	}

	sessions := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if !sessions.Enabled() {
		log.Warn("auth.secret is empty, every caller is anonymous")
	}

	messaging := facade.NewMessagingApplicationService(store.NewMemory(), hubInstance, log)

	router := InitRouter(cfg, hubInstance, sessions, messaging, log)
	httpSrv := server.NewHTTPServer(router, cfg.Server, log)
	app := newApplication(log, httpSrv, hubInstance, cfg.Server.ShutdownTimeout)
	if err := app.Run(sctx); err != nil {
		log.Errorf("failed to run application: %v", err)
		os.Exit(1)
	}
}

func hubConfig(c config.HubConfig) hub.Config {
	return hub.Config{
		SendBuffer:      c.SendBuffer,
		EnqueueTimeout:  c.EnqueueTimeout,
		WriteTimeout:    c.WriteTimeout,
		PongTimeout:     c.PongTimeout,
		PingInterval:    c.PingInterval,
		CleanupInterval: c.CleanupInterval,
		InboundRate:     c.InboundRate,
		InboundBurst:    c.InboundBurst,
		MaxMessageSize:  c.MaxMessageSize,
	}
}

type Application struct {
	logger          logger.Logger
	httpSrv         server.Server
	hub             *hub.Hub
	shutdownTimeout time.Duration
}

func newApplication(
	logger logger.Logger,
	httpSrv server.Server,
	hubInstance *hub.Hub,
	shutdownTimeout time.Duration,
) *Application {
	return &Application{
		logger:          logger.WithField("app", "realtime-bus"),
		httpSrv:         httpSrv,
		hub:             hubInstance,
		shutdownTimeout: shutdownTimeout,
	}
}

func (app *Application) Run(ctx context.Context) error {
	eg := errgroup.Group{}

	eg.Go(func() error {
		return app.httpSrv.Start(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()

		gracefulshutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
		defer cancel()

		// Stop hub first so long-lived SSE and WebSocket requests return
		if err := app.hub.Stop(gracefulshutdownCtx); err != nil {
			app.logger.Errorf("failed to stop hub: %v", err)
		}

		return app.httpSrv.Stop(gracefulshutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
