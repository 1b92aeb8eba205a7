// Package integration exercises the full sample-to-observer path over the
// in-process bus: tracker pipeline -> command channel -> relay -> observer
// registry, plus the actuator consuming the same commands.
package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tracker-control/tcc/internal/actuator"
	"github.com/tracker-control/tcc/internal/bus"
	"github.com/tracker-control/tcc/internal/codec"
	"github.com/tracker-control/tcc/internal/observer"
	"github.com/tracker-control/tcc/internal/relay"
	"github.com/tracker-control/tcc/internal/shaper"
	"github.com/tracker-control/tcc/internal/topic"
	"github.com/tracker-control/tcc/internal/tracker"
)

type harness struct {
	mem      *bus.Memory
	pipeline *tracker.Pipeline
	registry *observer.Registry
	relay    *relay.Relay
}

func newHarness(t *testing.T, tenants ...string) *harness {
	t.Helper()

	mem := bus.NewMemory()
	resolver, err := topic.NewResolver("tracker")
	require.NoError(t, err)
	enc := codec.JSON{}

	pipeline, err := tracker.New(mem, resolver, enc, tracker.Config{
		Shaping: shaper.Config{
			DeadZone:           5,
			MinPublishInterval: 100 * time.Millisecond,
		},
		QueueSize: 64,
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(pipeline.Close)

	registry := observer.NewRegistry(observer.Config{
		SessionBuffer: 64,
		SendTimeout:   100 * time.Millisecond,
	}, zerolog.Nop(), nil)
	t.Cleanup(registry.Close)

	rel := relay.New(mem, resolver, registry, enc, zerolog.Nop(), nil)
	for _, tenant := range tenants {
		require.NoError(t, pipeline.AddTenant(tenant))
		require.NoError(t, rel.Attach(tenant))
	}

	return &harness{mem: mem, pipeline: pipeline, registry: registry, relay: rel}
}

func collect(t *testing.T, s *observer.Session, n int, timeout time.Duration) []codec.Command {
	t.Helper()
	var cmds []codec.Command
	deadline := time.After(timeout)
	for len(cmds) < n {
		select {
		case payload := <-s.Out():
			var cmd codec.Command
			require.NoError(t, json.Unmarshal(payload, &cmd))
			cmds = append(cmds, cmd)
		case <-deadline:
			t.Fatalf("observer received %d of %d commands", len(cmds), n)
		}
	}
	return cmds
}

func TestSampleToObserverPath(t *testing.T) {
	h := newHarness(t, "teamA")
	session := h.registry.Register(context.Background())
	defer h.registry.Unregister(session)

	base := time.Now()
	samples := []struct {
		value float64
		at    time.Duration
	}{
		{10, 0},
		{13, 150 * time.Millisecond},
		{20, 200 * time.Millisecond},
		{30, 250 * time.Millisecond},
	}
	for _, s := range samples {
		require.NoError(t, h.pipeline.Offer(shaper.Sample{
			TenantID:  "teamA",
			Value:     s.value,
			Timestamp: base.Add(s.at),
		}))
	}

	cmds := collect(t, session, 2, time.Second)
	require.Equal(t, 10.0, cmds[0].Value)
	require.Equal(t, uint64(1), cmds[0].Seq)
	require.Equal(t, 20.0, cmds[1].Value)
	require.Equal(t, uint64(2), cmds[1].Seq)

	// Suppressed samples never reach the observer.
	select {
	case payload := <-session.Out():
		t.Fatalf("unexpected extra delivery: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserverSeesOnlyAttachedTenants(t *testing.T) {
	h := newHarness(t, "teamA")
	require.NoError(t, h.pipeline.AddTenant("teamB"))
	session := h.registry.Register(context.Background())
	defer h.registry.Unregister(session)

	now := time.Now()
	require.NoError(t, h.pipeline.Offer(shaper.Sample{TenantID: "teamB", Value: 99, Timestamp: now}))
	require.NoError(t, h.pipeline.Offer(shaper.Sample{TenantID: "teamA", Value: 10, Timestamp: now}))

	cmds := collect(t, session, 1, time.Second)
	require.Equal(t, "teamA", cmds[0].TenantID)
	require.Equal(t, 10.0, cmds[0].Value)
}

func TestActuatorFollowsShapedCommands(t *testing.T) {
	h := newHarness(t, "teamA")
	resolver, err := topic.NewResolver("tracker")
	require.NoError(t, err)

	driver := &stepRecorder{}
	ctrl, err := actuator.New(h.mem, resolver, driver, codec.JSON{}, actuator.Config{
		TenantID: "teamA",
		StepSize: 3,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))
	defer ctrl.Stop()

	require.NoError(t, h.pipeline.Offer(shaper.Sample{
		TenantID:  "teamA",
		Value:     10,
		Timestamp: time.Now(),
	}))

	require.Eventually(t, func() bool {
		steps := driver.snapshot()
		return len(steps) == 4 &&
			steps[0] == 3 && steps[1] == 6 && steps[2] == 9 && steps[3] == 10
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 10.0, ctrl.Position())
}

type stepRecorder struct {
	mu    sync.Mutex
	steps []float64
}

func (d *stepRecorder) Move(_ context.Context, position float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps = append(d.steps, position)
	return nil
}

func (d *stepRecorder) snapshot() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(d.steps))
	copy(out, d.steps)
	return out
}
