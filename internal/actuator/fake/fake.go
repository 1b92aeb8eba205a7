// Package fake provides a recording driver implementation for testing.
package fake

import (
	"context"
	"sync"
)

// Driver records every commanded position instead of touching hardware.
type Driver struct {
	mu        sync.Mutex
	positions []float64
	failAfter int
	err       error
}

// NewDriver creates an empty recording driver.
func NewDriver() *Driver {
	return &Driver{failAfter: -1}
}

// FailAfter makes the driver return err once n moves have succeeded.
func (d *Driver) FailAfter(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAfter = n
	d.err = err
}

// Move records the position.
func (d *Driver) Move(ctx context.Context, position float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAfter >= 0 && len(d.positions) >= d.failAfter {
		return d.err
	}
	d.positions = append(d.positions, position)
	return nil
}

// Positions returns a copy of every recorded position in order.
func (d *Driver) Positions() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(d.positions))
	copy(out, d.positions)
	return out
}

// Len returns the number of recorded moves.
func (d *Driver) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.positions)
}
