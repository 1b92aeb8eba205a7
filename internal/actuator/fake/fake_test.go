package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriverRecordsMoves(t *testing.T) {
	d := NewDriver()
	require.NoError(t, d.Move(context.Background(), 3))
	require.NoError(t, d.Move(context.Background(), 6))
	require.Equal(t, []float64{3, 6}, d.Positions())
	require.Equal(t, 2, d.Len())
}

func TestDriverFailAfter(t *testing.T) {
	d := NewDriver()
	boom := errors.New("axis jammed")
	d.FailAfter(1, boom)

	require.NoError(t, d.Move(context.Background(), 3))
	require.ErrorIs(t, d.Move(context.Background(), 6), boom)
	require.Equal(t, []float64{3}, d.Positions())
}

func TestDriverHonorsCancelledContext(t *testing.T) {
	d := NewDriver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Move(ctx, 3), context.Canceled)
	require.Empty(t, d.Positions())
}
