package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/tracker-control/tcc/internal/auth"
	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/metrics"
	"github.com/tracker-control/tcc/internal/observer"
	"github.com/tracker-control/tcc/internal/relay"
	"github.com/tracker-control/tcc/internal/topic"
)

func newRelayCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Forward shaped commands from the bus to observer sessions",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg := rt.cfg
			log := rt.log

			enc, err := codec.ForName(cfg.Encoding)
			if err != nil {
				return err
			}
			resolver, err := topic.NewResolver(cfg.DomainPrefix)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)

			conn := bus.NewClient(bus.Config{
				BrokerURL:      cfg.MQTT.BrokerURL,
				ClientID:       cfg.MQTT.ClientID,
				QoS:            cfg.MQTT.QoS,
				ConnectTimeout: cfg.MQTT.ConnectTimeout.Std(),
				PublishTimeout: cfg.MQTT.PublishTimeout.Std(),
			}, log)
			if err := conn.Connect(); err != nil {
				return err
			}
			defer conn.Close()

			registry := observer.NewRegistry(observer.Config{
				SessionBuffer: cfg.Observer.SessionBuffer,
				SendTimeout:   cfg.Observer.SendTimeout.Std(),
				IdleTimeout:   cfg.Observer.IdleTimeout.Std(),
			}, log, m)
			defer registry.Close()

			var authorizer observer.Authorizer
			if cfg.Auth.Enabled {
				verifier, err := auth.NewVerifier(auth.Config{
					Algorithm:    cfg.Auth.Algorithm,
					SecretKey:    cfg.Auth.SecretKey,
					PublicKeyPEM: cfg.Auth.PublicKeyPEM,
				})
				if err != nil {
					return fmt.Errorf("auth setup: %w", err)
				}
				authorizer = verifier
			}
			gateway := observer.NewGateway(registry, authorizer, log, m)

			rel := relay.New(conn, resolver, registry, enc, log, m)
			for _, tenant := range cfg.Tenants {
				if err := rel.Attach(tenant); err != nil {
					return fmt.Errorf("attach tenant %q: %w", tenant, err)
				}
			}

			mux := http.NewServeMux()
			mux.Handle("/observe", gateway.Handler())
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: cfg.Listen, Handler: mux}

			errc := make(chan error, 1)
			go func() {
				log.Info().
					Str("listen", cfg.Listen).
					Strs("tenants", cfg.Tenants).
					Msg("observer gateway listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
			case err := <-errc:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
