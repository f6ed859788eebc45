package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Types limits forwarding to these event types. Empty forwards every type.
	Types []string
}

// Dispatcher relays events to a sink from a single goroutine, so a slow
// sink never runs on the login path.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	types      map[string]struct{}

	mu     sync.RWMutex // held for reading while sending on queue
	queue  chan Event
	closed bool

	stopped   chan struct{}
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewDispatcher starts the relay goroutine. It returns nil when cfg is
// disabled; a nil Dispatcher ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, cfg.BufferSize),
		stopped:    make(chan struct{}),
	}
	if len(cfg.Types) > 0 {
		d.types = make(map[string]struct{}, len(cfg.Types))
		for _, t := range cfg.Types {
			d.types[t] = struct{}{}
		}
	}

	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer close(d.stopped)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
		d.delivered.Add(1)
	}
}

// Emit queues event, stamping it with the current time when it has none.
// Events of a type outside Config.Types are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if d.types != nil {
		if _, ok := d.types[event.EventType]; !ok {
			return
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	}
}

// Close stops accepting events and waits until the queue is drained.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered returns how many events reached the sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
