package oauth

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"mcpgate/internal/tokenstore"
)

// DefaultRefreshTimeout bounds a single shared refresh call.
const DefaultRefreshTimeout = 30 * time.Second

// RefreshFunc performs one refresh round trip.
type RefreshFunc func(ctx context.Context) (*tokenstore.Record, error)

// RefreshCoordinator collapses concurrent refreshes of the same service into
// one call whose result every waiter receives. Different services never
// block each other.
type RefreshCoordinator struct {
	group   singleflight.Group
	timeout time.Duration
}

// NewRefreshCoordinator creates a coordinator. A zero timeout uses DefaultRefreshTimeout.
func NewRefreshCoordinator(timeout time.Duration) *RefreshCoordinator {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &RefreshCoordinator{timeout: timeout}
}

// Do runs fn for service unless a refresh for service is already in flight,
// in which case it waits for that one. The shared call is detached from the
// first caller's cancellation; each caller still stops waiting when its own
// ctx is done.
func (c *RefreshCoordinator) Do(ctx context.Context, service string, fn RefreshFunc) (*tokenstore.Record, error) {
	ch := c.group.DoChan(service, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec, _ := res.Val.(*tokenstore.Record)
		return rec.Clone(), nil
	}
}
