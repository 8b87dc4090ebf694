package providers

import (
	"context"
	"sync"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// processor is the slice of the engine the dispatcher feeds.
type processor interface {
	HandleMessage(ctx context.Context, msg domain.Message) error
}

// Dispatcher fans messages from every registered source into the engine.
// Delivery is serialized per channel: one goroutine per channel drains a
// bounded queue, so commands for a signal apply in the order the channel
// produced them while separate channels proceed independently. A full queue
// blocks the source instead of dropping; sources do not redeliver, so a lost
// delete or edit would be gone for good.
type Dispatcher struct {
	logger  ports.Logger
	engine  processor
	sources []ports.MessageSource

	mu        sync.Mutex
	stopped   bool
	queues    map[int64]chan domain.Message
	queueSize int
	senders   sync.WaitGroup
	wg        sync.WaitGroup
}

const channelQueueSize = 256

// NewDispatcher creates a dispatcher over the given sources.
func NewDispatcher(logger ports.Logger, engine processor, sources ...ports.MessageSource) *Dispatcher {
	return &Dispatcher{
		logger:    logger,
		engine:    engine,
		sources:   sources,
		queues:    make(map[int64]chan domain.Message),
		queueSize: channelQueueSize,
	}
}

// Start starts every source. It returns after all sources are started; message
// delivery continues until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	for _, src := range d.sources {
		src := src
		handler := func(msg domain.Message) {
			d.enqueue(ctx, msg)
		}
		if err := src.Start(ctx, handler); err != nil {
			d.logger.Error(ctx, err, "message source failed to start", map[string]interface{}{"source": src.Name()})
			return err
		}
		d.logger.Info(ctx, "message source started", map[string]interface{}{"source": src.Name()})
	}
	return nil
}

// Stop stops all sources and waits for queued messages to drain.
func (d *Dispatcher) Stop(ctx context.Context) {
	for _, src := range d.sources {
		if err := src.Stop(ctx); err != nil {
			d.logger.Warn(ctx, "message source stop failed", map[string]interface{}{
				"source": src.Name(), "error": err.Error(),
			})
		}
	}
	d.mu.Lock()
	stopped := d.stopped
	d.stopped = true
	d.mu.Unlock()
	if stopped {
		return
	}
	// Queues close only after every in-flight enqueue has completed.
	d.senders.Wait()
	d.mu.Lock()
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(ctx context.Context, msg domain.Message) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.Warn(ctx, "message received after stop, dropped", map[string]interface{}{
			"channelID": msg.ChannelID, "messageID": msg.MessageID,
		})
		return
	}
	q, ok := d.queues[msg.ChannelID]
	if !ok {
		q = make(chan domain.Message, d.queueSize)
		d.queues[msg.ChannelID] = q
		d.wg.Add(1)
		go d.drain(ctx, msg.ChannelID, q)
	}
	d.senders.Add(1)
	d.mu.Unlock()
	defer d.senders.Done()

	// A full queue applies backpressure to the source rather than dropping.
	select {
	case q <- msg:
	case <-ctx.Done():
		d.logger.Warn(ctx, "message dropped during shutdown", map[string]interface{}{
			"channelID": msg.ChannelID, "messageID": msg.MessageID,
		})
	}
}

func (d *Dispatcher) drain(ctx context.Context, channelID int64, q chan domain.Message) {
	defer d.wg.Done()
	for msg := range q {
		if err := d.engine.HandleMessage(ctx, msg); err != nil {
			d.logger.Error(ctx, err, "message processing failed", map[string]interface{}{
				"channelID": channelID, "messageID": msg.MessageID,
			})
		}
	}
}
