package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/tracker-control/tcc/internal/actuator"
	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/metrics"
	"github.com/tracker-control/tcc/internal/observer"
	"github.com/tracker-control/tcc/internal/relay"
	"github.com/tracker-control/tcc/internal/shaper"
	"github.com/tracker-control/tcc/internal/topic"
	"github.com/tracker-control/tcc/internal/tracker"
)

// newSimulateCmd wires the whole pipeline over an in-process bus and feeds it
// synthetic sine-wave samples, so the shaping, relay, and motion behavior can
// be exercised without a broker or perception source.
func newSimulateCmd(rt *runtime) *cli.Command {
	var (
		rate      time.Duration
		amplitude float64
		period    time.Duration
	)
	return &cli.Command{
		Name:  "simulate",
		Usage: "Run the full pipeline in-process on synthetic samples",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "rate",
				Usage:       "interval between synthetic samples",
				Value:       50 * time.Millisecond,
				Destination: &rate,
			},
			&cli.FloatFlag{
				Name:        "amplitude",
				Usage:       "peak position of the synthetic track",
				Value:       50,
				Destination: &amplitude,
			},
			&cli.DurationFlag{
				Name:        "period",
				Usage:       "period of the synthetic track",
				Value:       10 * time.Second,
				Destination: &period,
			},
		},
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
			conn := bus.NewMemory()
			defer conn.Close()

			pipeline, err := tracker.New(conn, resolver, enc, tracker.Config{
				Shaping: shaper.Config{
					DeadZone:           cfg.Shaping.DeadZone,
					MinPublishInterval: cfg.Shaping.MinPublishInterval.Std(),
				},
				QueueSize: cfg.Shaping.QueueSize,
			}, m, log)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			registry := observer.NewRegistry(observer.Config{
				SessionBuffer: cfg.Observer.SessionBuffer,
				SendTimeout:   cfg.Observer.SendTimeout.Std(),
				IdleTimeout:   cfg.Observer.IdleTimeout.Std(),
			}, log, m)
			defer registry.Close()
			gateway := observer.NewGateway(registry, nil, log, m)

			rel := relay.New(conn, resolver, registry, enc, log, m)
			for _, tenant := range cfg.Tenants {
				if err := pipeline.AddTenant(tenant); err != nil {
					return fmt.Errorf("add tenant %q: %w", tenant, err)
				}
				if err := rel.Attach(tenant); err != nil {
					return err
				}

				driver := logDriver{log: log.With().Str("tenant_id", tenant).Logger()}
				ctrl, err := actuator.New(conn, resolver, driver, enc, actuator.Config{
					TenantID:        tenant,
					StepSize:        cfg.Motion.StepSize,
					StepDelay:       cfg.Motion.StepDelay.Std(),
					InitialPosition: cfg.Motion.InitialPosition,
				}, log)
				if err != nil {
					return err
				}
				if err := ctrl.Start(ctx); err != nil {
					return err
				}
				defer ctrl.Stop()
			}

			mux := http.NewServeMux()
			mux.Handle("/observe", gateway.Handler())
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: cfg.Listen, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("gateway server failed")
				}
			}()
			defer srv.Close()

			log.Info().
				Str("listen", cfg.Listen).
				Strs("tenants", cfg.Tenants).
				Dur("rate", rate).
				Msg("simulation running")

			ticker := time.NewTicker(rate)
			defer ticker.Stop()
			start := time.Now()
			for {
				select {
				case <-ctx.Done():
					log.Info().Msg("shutdown signal received")
					return nil
				case now := <-ticker.C:
					phase := 2 * math.Pi * float64(now.Sub(start)) / float64(period)
					for i, tenant := range cfg.Tenants {
						// Offset tenants so their tracks diverge.
						value := amplitude * math.Sin(phase+float64(i))
						if err := pipeline.Offer(shaper.Sample{
							TenantID:  tenant,
							Value:     value,
							Timestamp: now,
						}); err != nil {
							return err
						}
					}
				}
			}
		},
	}
}
