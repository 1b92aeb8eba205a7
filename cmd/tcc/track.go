package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/heartbeat"
	"github.com/tracker-control/tcc/internal/metrics"
	"github.com/tracker-control/tcc/internal/shaper"
	"github.com/tracker-control/tcc/internal/topic"
	"github.com/tracker-control/tcc/internal/tracker"
)

// sampleInput is the stdin line format for the track command. Missing
// timestamps default to arrival time.
type sampleInput struct {
	TenantID   string    `json:"tenant_id"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

func newTrackCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "track",
		Usage:     "Shape position samples from stdin into bus commands",
		UsageText: "tcc track  (reads one JSON sample per line on stdin)",
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

			for _, tenant := range cfg.Tenants {
				if err := pipeline.AddTenant(tenant); err != nil {
					return fmt.Errorf("add tenant %q: %w", tenant, err)
				}
				channels, err := resolver.Resolve(tenant)
				if err != nil {
					return err
				}
				hb := heartbeat.NewPublisher(conn, channels.Heartbeat, "tracker", enc,
					cfg.Heartbeat.Interval.Std(), cfg.Heartbeat.Jitter.Std(), log)
				hb.Start()
				defer hb.Stop()
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: cfg.Listen, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("metrics server failed")
				}
			}()
			defer srv.Close()

			done := make(chan struct{})
			go func() {
				defer close(done)
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					line := sc.Bytes()
					if len(line) == 0 {
						continue
					}
					var in sampleInput
					if err := json.Unmarshal(line, &in); err != nil {
						log.Warn().Err(err).Msg("discarding unparseable sample line")
						continue
					}
					if in.Timestamp.IsZero() {
						in.Timestamp = time.Now().UTC()
					}
					if err := pipeline.Offer(shaper.Sample{
						TenantID:   in.TenantID,
						Value:      in.Value,
						Timestamp:  in.Timestamp,
						Confidence: in.Confidence,
					}); err != nil {
						log.Warn().Err(err).Msg("sample not accepted")
					}
				}
				if err := sc.Err(); err != nil {
					log.Error().Err(err).Msg("stdin read failed")
				}
			}()

			log.Info().Strs("tenants", cfg.Tenants).Msg("tracker pipeline running, reading samples from stdin")
			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
			case <-done:
				log.Info().Msg("sample input exhausted")
			}
			return nil
		},
	}
}
