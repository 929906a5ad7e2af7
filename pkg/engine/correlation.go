package engine

import (
	"context"
	"sync/atomic"

	"botmux/pkg/bus"
)

type correlationKey struct{}

// correlation links a context to the update a bot is currently handling.
// Links chain so a handler for one bot can send through another bot without
// losing either association.
type correlation struct {
	botID  string
	update *bus.Update
	// walk marks links created by a walk. ended is set when that walk returns,
	// so a context kept past it no longer counts as in flight.
	walk   bool
	ended  atomic.Bool
	parent *correlation
}

func (c *correlation) find(botID string) *correlation {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.botID == botID {
			return cur
		}
	}
	return nil
}

func correlationFrom(ctx context.Context) *correlation {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(correlationKey{}).(*correlation)
	return c
}

// ContextWithUpdate returns a context whose sends through botID correlate with update.
func ContextWithUpdate(ctx context.Context, botID string, update *bus.Update) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationKey{}, &correlation{
		botID:  botID,
		update: update,
		parent: correlationFrom(ctx),
	})
}

// contextWithWalk marks ctx as belonging to a running walk for botID. The
// returned func ends the walk.
func contextWithWalk(ctx context.Context, botID string, update *bus.Update) (context.Context, func()) {
	link := &correlation{
		botID:  botID,
		update: update,
		walk:   true,
		parent: correlationFrom(ctx),
	}
	return context.WithValue(ctx, correlationKey{}, link), func() { link.ended.Store(true) }
}

// UpdateFromContext returns the update correlated with botID in ctx, if any.
func UpdateFromContext(ctx context.Context, botID string) *bus.Update {
	if c := correlationFrom(ctx).find(botID); c != nil {
		return c.update
	}
	return nil
}

// inWalk reports whether ctx belongs to a walk already running for botID.
func inWalk(ctx context.Context, botID string) bool {
	for c := correlationFrom(ctx); c != nil; c = c.parent {
		if c.botID == botID && c.walk && !c.ended.Load() {
			return true
		}
	}
	return false
}
