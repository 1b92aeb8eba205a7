package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r, err := NewResolver("")
	require.NoError(t, err)

	ch, err := r.Resolve("teamA")
	require.NoError(t, err)

	assert.Equal(t, "tracker/teamA/command", ch.Command)
	assert.Equal(t, "tracker/teamA/status", ch.Status)
	assert.Equal(t, "tracker/teamA/heartbeat", ch.Heartbeat)
}

func TestResolveCustomPrefix(t *testing.T) {
	r, err := NewResolver("lab42")
	require.NoError(t, err)

	ch, err := r.Resolve("bench-3")
	require.NoError(t, err)
	assert.Equal(t, "lab42/bench-3/command", ch.Command)
}

func TestResolveInvalidTenantID(t *testing.T) {
	r, err := NewResolver("")
	require.NoError(t, err)

	cases := []struct {
		name     string
		tenantID string
	}{
		{"empty", ""},
		{"separator", "team/A"},
		{"plus wildcard", "team+A"},
		{"hash wildcard", "team#A"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.tenantID)
			assert.ErrorIs(t, err, ErrInvalidTenantID)
		})
	}
}

func TestResolveInjective(t *testing.T) {
	r, err := NewResolver("")
	require.NoError(t, err)

	a, err := r.Resolve("teamA")
	require.NoError(t, err)
	b, err := r.Resolve("teamB")
	require.NoError(t, err)

	seen := map[string]bool{
		a.Command: true, a.Status: true, a.Heartbeat: true,
	}
	for _, name := range []string{b.Command, b.Status, b.Heartbeat} {
		assert.False(t, seen[name], "channel %q resolved for both tenants", name)
	}
}

func TestParse(t *testing.T) {
	r, err := NewResolver("")
	require.NoError(t, err)

	tenant, purpose, err := r.Parse("tracker/teamA/command")
	require.NoError(t, err)
	assert.Equal(t, "teamA", tenant)
	assert.Equal(t, PurposeCommand, purpose)
}

func TestParseRejectsForeignChannels(t *testing.T) {
	r, err := NewResolver("")
	require.NoError(t, err)

	cases := []string{
		"other/teamA/command",
		"tracker/teamA",
		"tracker/teamA/command/extra",
		"tracker/teamA/unknown",
		"tracker//command",
	}

	for _, channel := range cases {
		_, _, err := r.Parse(channel)
		assert.Error(t, err, "channel %q", channel)
	}
}

func TestParseRoundTrip(t *testing.T) {
	r, err := NewResolver("plant7")
	require.NoError(t, err)

	ch, err := r.Resolve("cell-b")
	require.NoError(t, err)

	tenant, purpose, err := r.Parse(ch.Heartbeat)
	require.NoError(t, err)
	assert.Equal(t, "cell-b", tenant)
	assert.Equal(t, PurposeHeartbeat, purpose)
}

func TestNewResolverRejectsWildcardPrefix(t *testing.T) {
	_, err := NewResolver("bad+prefix")
	assert.Error(t, err)
}
