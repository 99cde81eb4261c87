package audit

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit drop events when the buffer is full instead of
	// blocking the caller. Dropped events are counted.
	DropIfFull bool
}

// Dispatcher relays events to a Sink from one background goroutine. A nil
// *Dispatcher is valid and discards everything.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	events  chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewDispatcher starts a dispatcher, or returns nil when cfg.Enabled is false.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		events:  make(chan Event, max(cfg.BufferSize, 1)),
		stop:    make(chan struct{}),
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ctx := context.Background()
	for {
		select {
		case event := <-d.events:
			d.sink.Emit(ctx, event)
		case <-d.stop:
			// Drain what was accepted before Close.
			for {
				select {
				case event := <-d.events:
					d.sink.Emit(ctx, event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) stamp(event *Event) {
	now := d.now()
	if event.Timestamp.IsZero() {
		event.Timestamp = now.UTC()
	}
	if event.ID == "" {
		d.idMu.Lock()
		id, err := ulid.New(ulid.Timestamp(now), d.entropy)
		d.idMu.Unlock()
		if err == nil {
			event.ID = id.String()
		}
	}
}

// Emit queues event. Without DropIfFull it blocks until the event is queued,
// ctx ends, or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	d.stamp(&event)

	if d.cfg.DropIfFull {
		select {
		case d.events <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.events <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events, flushes the queue and waits for the consumer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
