package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"housingBack/internal/booking/lifecycle"
)

// Logger provides minimal logging required by the dispatcher.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Event is a committed booking change delivered to interested parties.
type Event struct {
	ID      string            `json:"id"`
	Type    lifecycle.Event   `json:"type"`
	OwnerID int64             `json:"owner_id"`
	Booking lifecycle.Booking `json:"booking"`
	At      time.Time         `json:"at"`
}

// Recipients returns the users an event is addressed to.
func (e Event) Recipients() []int64 {
	switch e.Type {
	case lifecycle.EventVisitRequested, lifecycle.EventCancelled:
		return []int64{e.OwnerID}
	default:
		return []int64{e.Booking.RenterID}
	}
}

// Sink delivers events to one channel (push, socket, ...).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to sinks asynchronously. Delivery is best
// effort: failures and overflow are logged, never returned to callers.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	logger  Logger
	timeout time.Duration
	dropped atomic.Int64
	now     func() time.Time
}

// NewDispatcher constructs a dispatcher with a bounded queue.
func NewDispatcher(logger Logger, queueSize int, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// Notify enqueues an event without blocking.
func (d *Dispatcher) Notify(kind lifecycle.Event, b lifecycle.Booking, ownerID int64) {
	if kind == lifecycle.EventNone || len(d.sinks) == 0 {
		return
	}
	ev := Event{ID: uuid.NewString(), Type: kind, OwnerID: ownerID, Booking: b, At: d.now()}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Errorf("notify: queue full, dropped %s for booking %d", kind, b.ID)
	}
}

// Dropped reports how many events overflowed the queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run starts workers and blocks until ctx is done. Queued events are
// drained before returning.
func (d *Dispatcher) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					d.drain()
					return
				case ev := <-d.queue:
					d.deliver(context.Background(), ev)
				}
			}
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(parent, d.timeout)
		err := s.Deliver(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Errorf("notify: %s delivery of %s for booking %d failed: %v", s.Name(), ev.Type, ev.Booking.ID, err)
		}
	}
}
