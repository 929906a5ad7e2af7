package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"botmux/pkg/bus"
	"botmux/pkg/engine"
	"botmux/pkg/metrics"
)

// dispatcher moves queued updates into the engine with a fixed worker pool.
// Every update of a conversation goes to the same worker, so a conversation is
// handled one update at a time in arrival order.
type dispatcher struct {
	engine  *engine.Engine
	queue   *bus.MessageBus
	metrics *metrics.Metrics
	log     *slog.Logger

	accepted atomic.Int64
	handled  atomic.Int64
}

const laneBuffer = 64

func newDispatcher(eng *engine.Engine, queue *bus.MessageBus, m *metrics.Metrics, log *slog.Logger) *dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &dispatcher{
		engine:  eng,
		queue:   queue,
		metrics: m,
		log:     log.With("component", "gateway.dispatcher"),
	}
}

// receiver returns the channel.Receiver handed to the adapter bound to botID.
func (d *dispatcher) receiver(botID string) func(context.Context, *bus.Update) error {
	return func(ctx context.Context, update *bus.Update) error {
		if update == nil {
			return engine.ErrNilUpdate
		}
		if !d.queue.PublishInbound(ctx, bus.Envelope{BotID: botID, Update: update}) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errQueueClosed
		}
		d.accepted.Add(1)
		d.observeDepth()
		return nil
	}
}

// run starts workers and blocks until ctx ends and every worker has returned.
func (d *dispatcher) run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}

	lanes := make([]chan bus.Envelope, workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan bus.Envelope, laneBuffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, i, lanes[i])
		}()
	}

	d.route(ctx, lanes)
	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()
}

// route is the only consumer of the inbound queue.
func (d *dispatcher) route(ctx context.Context, lanes []chan bus.Envelope) {
	for {
		env, ok := d.queue.ConsumeInbound(ctx)
		if !ok {
			return
		}
		d.observeDepth()

		select {
		case lanes[laneIndex(conversationKey(env), len(lanes))] <- env:
		case <-ctx.Done():
			d.handled.Add(1)
			return
		}
	}
}

func (d *dispatcher) work(ctx context.Context, worker int, lane <-chan bus.Envelope) {
	for env := range lane {
		if ctx.Err() != nil {
			d.handled.Add(1)
			continue
		}
		d.dispatch(ctx, worker, env)
	}
}

func (d *dispatcher) dispatch(ctx context.Context, worker int, env bus.Envelope) {
	defer d.handled.Add(1)

	outcome, err := d.engine.ReceiveUpdate(ctx, env.BotID, env.Update)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, engine.ErrUnknownBot) {
			level = slog.LevelWarn
		}
		d.log.Log(ctx, level, "Dropping update", "worker", worker, "bot_id", env.BotID, "update_id", env.Update.ID, "error", err)
		return
	}
	d.log.Debug("Update dispatched", "worker", worker, "bot_id", env.BotID, "update_id", env.Update.ID, "outcome", outcome)
}

// idle reports whether every accepted update has been handled.
func (d *dispatcher) idle() bool {
	return d.handled.Load() >= d.accepted.Load()
}

func (d *dispatcher) observeDepth() {
	if d.metrics != nil {
		d.metrics.SetQueueDepth(d.queue.Pending())
	}
}

func laneIndex(key string, lanes int) int {
	return int(xxhash.Sum64String(key) % uint64(lanes))
}

func conversationKey(env bus.Envelope) string {
	if env.Update == nil {
		return env.BotID
	}
	return env.BotID + "/" + env.Update.Sender
}
