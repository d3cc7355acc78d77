// Package processing resolves identifiers and runs bulk requests in the
// background. Goroutines + channels power the in-process dispatcher.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VKYCVault/internal/logger"
)

// ErrStopped is reported by tickets whose request was still queued when the
// dispatcher stopped. The request stays PENDING and can be dispatched again.
var ErrStopped = errors.New("dispatcher stopped")

// Handler processes one request id.
type Handler func(ctx context.Context, requestID string) error

// Ticket tracks one dispatched request until its handler returns.
type Ticket struct {
	RequestID string
	done      chan struct{}
	err       error
}

func newTicket(requestID string) *Ticket {
	return &Ticket{RequestID: requestID, done: make(chan struct{})}
}

func (t *Ticket) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the handler has returned.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the handler returns or ctx ends, and reports the
// handler's error.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	requestID string
	ticket    *Ticket
}

// Dispatcher runs request handlers on a fixed pool of goroutines fed by a
// bounded channel.
type Dispatcher struct {
	queue   chan job
	done    chan struct{}
	workers int
	wg      sync.WaitGroup
	senders sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	log     zerolog.Logger
}

// NewDispatcher builds a Dispatcher with queue capacity tied to worker count.
func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		queue:   make(chan job, workers*4),
		done:    make(chan struct{}),
		workers: workers,
		log:     logger.Component("dispatcher"),
	}
}

// Start launches the worker goroutines. Cancelling ctx stops the workers from
// picking up new jobs; a handler already running keeps a context that carries
// ctx's values but not its cancellation, so shutdown never turns into an item
// outcome. Stop waits for those handlers.
func (d *Dispatcher) Start(ctx context.Context, handler Handler) {
	d.once.Do(func() {
		d.log.Info().Int("worker_count", d.workers).Msg("starting dispatcher")
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx, i, handler)
		}
	})
}

// Enqueue queues requestID and returns its ticket. It blocks while the queue
// is full, until ctx ends or the dispatcher stops.
func (d *Dispatcher) Enqueue(ctx context.Context, requestID string) (*Ticket, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrStopped
	}
	d.senders.Add(1)
	d.mu.Unlock()
	defer d.senders.Done()

	t := newTicket(requestID)
	select {
	case d.queue <- job{requestID: requestID, ticket: t}:
		return t, nil
	case <-d.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, fmt.Errorf("enqueue %s: %w", requestID, ctx.Err())
	}
}

// Dispatch queues requestID without keeping the ticket.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string) error {
	_, err := d.Enqueue(ctx, requestID)
	return err
}

// Stop refuses new work, waits for running handlers and lets the workers
// drain the queue. Jobs left behind, because Start was never called or its
// context was cancelled, fail with ErrStopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	// Blocked senders return on done; only then is closing the queue safe.
	d.senders.Wait()
	close(d.queue)

	d.wg.Wait()
	for j := range d.queue {
		d.log.Warn().Str("request_id", j.requestID).Msg("request left pending at shutdown")
		j.ticket.finish(ErrStopped)
	}
	d.log.Info().Msg("dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int, handler Handler) {
	defer d.wg.Done()
	log := d.log.With().Int("worker_id", id).Logger()
	run := context.WithoutCancel(ctx)
	for {
		// A cancelled ctx wins over a ready job.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			err := handler(run, j.requestID)
			if err != nil {
				log.Error().Err(err).Str("request_id", j.requestID).Msg("request processing failed")
			}
			j.ticket.finish(err)
		}
	}
}
