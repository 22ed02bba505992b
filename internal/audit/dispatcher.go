package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; entries that do not fit are
	// counted in Dropped.
	DropIfFull bool
	// SinkTimeout bounds each sink call. Zero means no deadline.
	SinkTimeout time.Duration
}

// Dispatcher forwards entries to a sink from one background goroutine.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	delivered atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when disabled. A nil
// dispatcher is valid and discards everything.
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
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Entry, cfg.BufferSize),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) deliver(entry Entry) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, entry)
	d.delivered.Add(1)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case entry := <-d.ch:
			d.deliver(entry)
		case <-d.done:
			// drain what was accepted before Close
			for {
				select {
				case entry := <-d.ch:
					d.deliver(entry)
				default:
					return
				}
			}
		}
	}
}

// Emit queues entry. With DropIfFull it never blocks; otherwise it waits for
// buffer space, ctx, or Close.
func (d *Dispatcher) Emit(ctx context.Context, entry Entry) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- entry:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- entry:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting entries and waits until the queue is drained.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
