package actuator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/motion"
	"github.com/tracker-control/tcc/internal/topic"
)

// Config holds the per-tenant actuation settings.
type Config struct {
	TenantID        string
	StepSize        float64
	StepDelay       time.Duration
	InitialPosition float64
}

// Controller subscribes to one tenant's command channel and executes shaped
// commands as bounded motion profiles. A command that arrives while a profile
// is in flight replaces it at the next step boundary; the profile restarts
// from the position actually reached.
type Controller struct {
	conn     bus.Conn
	channels topic.Channels
	driver   Driver
	enc      codec.Encoding
	log      zerolog.Logger

	tenantID  string
	stepDelay time.Duration
	gen       *motion.Generator

	// targets is a latest-wins handoff from the bus handler to the worker.
	targets chan float64

	mu      sync.Mutex
	lastSeq uint64
	pos     float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller for one tenant. The generator owns the actuator
// position; nothing else writes it.
func New(conn bus.Conn, resolver *topic.Resolver, driver Driver, enc codec.Encoding, cfg Config, log zerolog.Logger) (*Controller, error) {
	channels, err := resolver.Resolve(cfg.TenantID)
	if err != nil {
		return nil, err
	}
	gen, err := motion.NewGenerator(cfg.StepSize, cfg.InitialPosition)
	if err != nil {
		return nil, err
	}
	return &Controller{
		conn:      conn,
		channels:  channels,
		driver:    driver,
		enc:       enc,
		log:       log.With().Str("component", "actuator").Str("tenant_id", cfg.TenantID).Logger(),
		tenantID:  cfg.TenantID,
		stepDelay: cfg.StepDelay,
		gen:       gen,
		targets:   make(chan float64, 1),
		pos:       cfg.InitialPosition,
	}, nil
}

// Start subscribes to the tenant's command channel and launches the motion
// worker. It returns once the subscription is established.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.conn.Subscribe(c.channels.Command, c.onMessage); err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", c.channels.Command, err)
	}

	c.wg.Add(1)
	go c.run(ctx)
	c.log.Info().Str("channel", c.channels.Command).Msg("actuator controller started")
	return nil
}

// Stop unsubscribes and waits for the in-flight profile step to finish.
func (c *Controller) Stop() {
	if err := c.conn.Unsubscribe(c.channels.Command); err != nil {
		c.log.Warn().Err(err).Msg("unsubscribe failed")
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Position returns the last position actually driven.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// onMessage decodes one shaped command and hands its target to the worker.
// Stale or duplicate sequence numbers are dropped so a redelivered command
// never rewinds the axis.
func (c *Controller) onMessage(channel string, payload []byte) {
	var cmd codec.Command
	if err := c.enc.Unmarshal(payload, &cmd); err != nil {
		c.log.Warn().Err(err).Str("channel", channel).Msg("discarding undecodable command")
		return
	}
	if cmd.TenantID != c.tenantID {
		c.log.Warn().Str("got", cmd.TenantID).Msg("discarding command for foreign tenant")
		return
	}

	c.mu.Lock()
	if cmd.Seq <= c.lastSeq && c.lastSeq != 0 {
		c.mu.Unlock()
		c.log.Debug().Uint64("seq", cmd.Seq).Msg("discarding stale command")
		return
	}
	c.lastSeq = cmd.Seq
	c.mu.Unlock()

	// Latest wins: a queued target the worker has not picked up yet is
	// superseded, never executed.
	for {
		select {
		case c.targets <- cmd.Value:
			return
		default:
			select {
			case <-c.targets:
			default:
			}
		}
	}
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case target := <-c.targets:
			c.execute(ctx, target)
		}
	}
}

// execute drives one profile to completion, switching to a newer target at
// any step boundary.
func (c *Controller) execute(ctx context.Context, target float64) {
	plan := c.gen.Plan(target)
	c.log.Debug().Float64("target", target).Float64("from", c.gen.Current()).Msg("profile started")

	for {
		pos, ok := plan.Next()
		if !ok {
			c.publishStatus("target_reached", strconv.FormatFloat(plan.Target(), 'g', -1, 64))
			return
		}

		if err := c.driver.Move(ctx, pos); err != nil {
			c.log.Error().Err(err).Float64("position", pos).Msg("drive step failed, abandoning profile")
			c.publishStatus("drive_failed", err.Error())
			return
		}
		c.mu.Lock()
		c.pos = pos
		c.mu.Unlock()

		if c.stepDelay <= 0 {
			select {
			case <-ctx.Done():
				return
			case t := <-c.targets:
				plan = c.gen.Plan(t)
			default:
			}
			continue
		}

		timer := time.NewTimer(c.stepDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case t := <-c.targets:
			timer.Stop()
			plan = c.gen.Plan(t)
		case <-timer.C:
		}
	}
}

func (c *Controller) publishStatus(event, detail string) {
	payload, err := c.enc.Marshal(codec.Status{
		Node:      "actuator",
		Event:     event,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := c.conn.Publish(c.channels.Status, payload); err != nil {
		c.log.Warn().Err(err).Msg("status publish failed")
	}
}
