package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/tracker-control/tcc/internal/actuator"
	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/heartbeat"
	"github.com/tracker-control/tcc/internal/topic"
)

// logDriver stands in for axis hardware: every step is logged instead of
// driven. Real deployments swap in a Driver for their actuator bus.
type logDriver struct {
	log zerolog.Logger
}

func (d logDriver) Move(_ context.Context, position float64) error {
	d.log.Info().Float64("position", position).Msg("axis moved")
	return nil
}

func newActuateCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "actuate",
		Usage: "Execute shaped commands as bounded motion profiles",
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

			for _, tenant := range cfg.Tenants {
				driver := logDriver{log: log.With().Str("tenant_id", tenant).Logger()}
				ctrl, err := actuator.New(conn, resolver, driver, enc, actuator.Config{
					TenantID:        tenant,
					StepSize:        cfg.Motion.StepSize,
					StepDelay:       cfg.Motion.StepDelay.Std(),
					InitialPosition: cfg.Motion.InitialPosition,
				}, log)
				if err != nil {
					return fmt.Errorf("actuator for tenant %q: %w", tenant, err)
				}
				if err := ctrl.Start(ctx); err != nil {
					return err
				}
				defer ctrl.Stop()

				channels, err := resolver.Resolve(tenant)
				if err != nil {
					return err
				}
				hb := heartbeat.NewPublisher(conn, channels.Heartbeat, "actuator", enc,
					cfg.Heartbeat.Interval.Std(), cfg.Heartbeat.Jitter.Std(), log)
				hb.Start()
				defer hb.Stop()
			}

			log.Info().Strs("tenants", cfg.Tenants).Msg("actuator running")
			<-ctx.Done()
			log.Info().Msg("shutdown signal received")
			return nil
		},
	}
}
