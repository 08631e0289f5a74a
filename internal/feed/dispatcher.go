// Package feed consumes closed bars from Kafka and routes them into the
// trend engines. Bars for one position are handled strictly in arrival
// order; distinct positions evaluate in parallel.
package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
)

// BarHandler evaluates one closed bar. Implemented by the trend manager.
type BarHandler interface {
	HandleBar(ctx context.Context, bar trend.Bar) trend.EngineSnapshot
}

// Dispatcher fans bars out to one worker per position. Each worker drains a
// FIFO queue, so per-position ordering holds without any cross-position
// coordination. A full queue blocks Dispatch, pushing backpressure up to
// the Kafka reader.
type Dispatcher struct {
	handler BarHandler
	logger  zerolog.Logger
	buffer  int

	mu      sync.Mutex
	workers map[string]chan trend.Bar
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given per-position queue size.
func NewDispatcher(handler BarHandler, buffer int, logger zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 16
	}
	return &Dispatcher{
		handler: handler,
		logger:  logger.With().Str("component", "BarDispatcher").Logger(),
		buffer:  buffer,
		workers: make(map[string]chan trend.Bar),
	}
}

// Dispatch queues one bar for its position's worker, starting the worker on
// first sight of the position.
func (d *Dispatcher) Dispatch(ctx context.Context, bar trend.Bar) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher closed")
	}
	key := bar.Key().String()
	ch, ok := d.workers[key]
	if !ok {
		ch = make(chan trend.Bar, d.buffer)
		d.workers[key] = ch
		d.wg.Add(1)
		go d.run(key, ch)
		d.logger.Debug().Str("position", key).Msg("Started position worker")
	}
	d.mu.Unlock()

	select {
	case ch <- bar:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drains one position's queue. Side effects run detached from the feed
// context so a shutdown still finishes queued bars.
func (d *Dispatcher) run(key string, ch chan trend.Bar) {
	defer d.wg.Done()
	for bar := range ch {
		d.handler.HandleBar(context.Background(), bar)
	}
	d.logger.Debug().Str("position", key).Msg("Position worker stopped")
}

// Positions returns the number of positions with a live worker.
func (d *Dispatcher) Positions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Close stops accepting bars, drains every queue and waits for the workers
// to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
