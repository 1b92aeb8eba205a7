// Package actuator consumes shaped commands from a tenant's command channel
// and drives a physical axis through bounded motion steps.
package actuator

import "context"

// Driver is the southbound hardware contract. Move applies one absolute
// position step; it must be safe to call sequentially from a single goroutine
// and should honor context cancellation for slow hardware.
type Driver interface {
	Move(ctx context.Context, position float64) error
}
