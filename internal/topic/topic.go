// Package topic resolves tenant identifiers to the MQTT channel set used by
// one operating group.
//
// Channel naming is the interop contract shared with unmodified collaborators
// and must be reproduced bit-exact:
//
//	<domain-prefix>/<tenant_id>/<purpose>
//
// where purpose is one of command, status, or heartbeat.
package topic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTenantID is returned for empty tenant identifiers or identifiers
// containing MQTT hierarchy or wildcard characters.
var ErrInvalidTenantID = errors.New("INVALID_TENANT_ID")

// DefaultPrefix is the domain prefix used when none is configured.
const DefaultPrefix = "tracker"

// Purpose suffixes. These are part of the wire contract.
const (
	PurposeCommand   = "command"
	PurposeStatus    = "status"
	PurposeHeartbeat = "heartbeat"
)

// Separator is the MQTT topic hierarchy separator.
const Separator = "/"

// reserved characters that must never appear in a tenant identifier:
// the hierarchy separator plus the MQTT subscription wildcards.
const reserved = "/+#"

// Channels is the resolved channel set for one tenant.
type Channels struct {
	Command   string
	Status    string
	Heartbeat string
}

// Resolver maps tenant identifiers to channel sets under a fixed domain prefix.
// Resolution is pure and injective: distinct tenants never share a channel.
type Resolver struct {
	prefix string
}

// NewResolver creates a resolver with the given domain prefix. An empty prefix
// selects DefaultPrefix. The prefix itself must not contain wildcard characters.
func NewResolver(prefix string) (*Resolver, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, "+#") {
		return nil, fmt.Errorf("domain prefix %q contains wildcard characters", prefix)
	}
	return &Resolver{prefix: strings.Trim(prefix, Separator)}, nil
}

// Prefix returns the domain prefix in use.
func (r *Resolver) Prefix() string {
	return r.prefix
}

// ValidateTenantID checks the tenant identifier character constraint.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is empty", ErrInvalidTenantID)
	}
	if strings.ContainsAny(tenantID, reserved) {
		return fmt.Errorf("%w: tenant id %q contains reserved characters", ErrInvalidTenantID, tenantID)
	}
	return nil
}

// Resolve returns the channel set for a tenant. It fails with
// ErrInvalidTenantID for identifiers violating the character constraint.
func (r *Resolver) Resolve(tenantID string) (Channels, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return Channels{}, err
	}
	return Channels{
		Command:   r.join(tenantID, PurposeCommand),
		Status:    r.join(tenantID, PurposeStatus),
		Heartbeat: r.join(tenantID, PurposeHeartbeat),
	}, nil
}

// Parse is the inverse of Resolve: it extracts the tenant identifier and
// purpose from a channel name under this resolver's prefix. Used by the relay
// to route inbound messages back to their tenant.
func (r *Resolver) Parse(channel string) (tenantID, purpose string, err error) {
	parts := strings.Split(channel, Separator)
	if len(parts) != 3 || parts[0] != r.prefix {
		return "", "", fmt.Errorf("channel %q does not match %s/<tenant>/<purpose>", channel, r.prefix)
	}
	tenantID, purpose = parts[1], parts[2]
	if err := ValidateTenantID(tenantID); err != nil {
		return "", "", err
	}
	switch purpose {
	case PurposeCommand, PurposeStatus, PurposeHeartbeat:
		return tenantID, purpose, nil
	}
	return "", "", fmt.Errorf("channel %q has unknown purpose %q", channel, purpose)
}

func (r *Resolver) join(tenantID, purpose string) string {
	return r.prefix + Separator + tenantID + Separator + purpose
}
