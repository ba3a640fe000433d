// Command listen opens a realtime channel to the server, keeps the query
// cache in step with it and logs every envelope and notification.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"go-realtime-bus/internal/application/invalidation"
	"go-realtime-bus/internal/domain/envelope"
	"go-realtime-bus/internal/infrastructure/auth"
	"go-realtime-bus/internal/infrastructure/config"
	"go-realtime-bus/internal/infrastructure/logger"
	"go-realtime-bus/internal/infrastructure/querycache"
	"go-realtime-bus/internal/infrastructure/realtime"
)

func main() {
	flags := pflag.NewFlagSet("listen", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML config file (default $"+config.EnvVar+")")
	origin := flags.String("origin", "", "application origin, overrides client.origin")
	token := flags.String("token", "", "session token, overrides client.token")
	userID := flags.Int64("user-id", 0, "signed-in user id, overrides client.user_id")
	role := flags.String("role", "", "signed-in user role, overrides client.role")
	reconnect := flags.Bool("reconnect", false, "reconnect with backoff after the channel closes")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	client := cfg.Client
	if *origin != "" {
		client.Origin = *origin
	}
	if *token != "" {
		client.Token = *token
	}
	if *userID != 0 {
		client.UserID = *userID
	}
	if *role != "" {
		client.Role = *role
	}
	if flags.Changed("reconnect") {
		client.Reconnect.Enabled = *reconnect
	}

	log := logger.NewLogrusLogger(cfg.Logger).WithField("app", "listen")

	if err := run(WithSignal(context.Background()), client, log); err != nil {
		log.Errorf("listen failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client config.ClientConfig, log logger.Logger) error {
	endpoint, err := realtime.EndpointFromOrigin(client.Origin)
	if err != nil {
		return err
	}

	cache := querycache.New(
		querycache.NewHTTPFetcher(client.Origin, client.Token, client.Cache.FetchTimeout),
		querycache.Options{
			TTL:                 client.Cache.TTL,
			Capacity:            client.Cache.Capacity,
			RefetchOnInvalidate: client.Cache.RefetchOnInvalidate,
			FetchTimeout:        client.Cache.FetchTimeout,
		},
		log,
	)
	go cache.Start()
	defer cache.Stop()

	bus := realtime.NewBus(realtime.BusOptions{
		Endpoint: endpoint,
		Channel: realtime.ChannelOptions{
			Token:            client.Token,
			HandshakeTimeout: client.HandshakeTimeout,
			ReadTimeout:      client.ReadTimeout,
			WriteTimeout:     client.WriteTimeout,
		},
		Reconnect: realtime.ReconnectPolicy{
			Enabled:         client.Reconnect.Enabled,
			InitialInterval: client.Reconnect.InitialInterval,
			MaxInterval:     client.Reconnect.MaxInterval,
			Multiplier:      client.Reconnect.Multiplier,
			Jitter:          client.Reconnect.Jitter,
			MaxElapsed:      client.Reconnect.MaxElapsed,
		},
	}, log)

	bridge := invalidation.New(cache, invalidation.Config{
		UserID: client.UserID,
		Role:   auth.Role(client.Role),
		Notifier: invalidation.NotifierFunc(func(n invalidation.Notification) {
			log.Infof("%s: %s", n.Title, n.Description)
		}),
	}, log)
	bridge.Register(bus)

	bus.Subscribe(func(env envelope.Envelope) {
		log.WithField("type", env.Type).Infof("Received %s", env.Raw)
	})

	if err := bus.Start(ctx); err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for _, key := range []querycache.Key{invalidation.KeyMessages, invalidation.KeyGroupMessages} {
			if _, err := cache.Get(ctx, key); err != nil {
				log.Warnf("Initial fetch of %s failed: %v", key, err)
			}
		}
		return nil
	})

	// Without reconnect a closed channel stays closed, so there is nothing
	// left to listen to.
	var closed <-chan struct{}
	if !client.Reconnect.Enabled {
		closed = bus.Channel().Done()
	}

	eg.Go(func() error {
		select {
		case <-ctx.Done():
		case <-closed:
			log.Info("Channel closed, exiting")
		}
		bus.Stop()
		return nil
	})

	return eg.Wait()
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
