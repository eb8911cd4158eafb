package mail

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DispatcherConfig tunes the async delivery worker.
type DispatcherConfig struct {
	// BufferSize bounds the queue; sends beyond it are dropped and counted.
	BufferSize int
	// PerSecond paces deliveries to stay under provider throttles.
	// 0 means unpaced.
	PerSecond float64
	// Burst is the pacing burst size. Defaults to 1 when pacing is on.
	Burst int
}

// Dispatcher wraps a Sender with a buffered single-worker queue. Send
// assigns a message ID and returns immediately; delivery happens on the
// worker, paced by a token bucket, with failures logged rather than
// surfaced; the engine's resend path is the recovery mechanism.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	limiter *rate.Limiter
	ch      chan queued
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64

	// mu pins the open state across an enqueue: Close cannot reach the
	// worker's final drain while a Send that saw the dispatcher open is
	// still queueing, so every message is delivered or counted, never
	// silently lost.
	mu     sync.RWMutex
	closed bool

	once sync.Once
}

type queued struct {
	id  string
	msg Message
}

// NewDispatcher creates and starts a dispatcher in front of sender. A nil
// logger falls back to zap.NewNop.
func NewDispatcher(sender Sender, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.PerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.PerSecond), burst)
	}

	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		limiter: limiter,
		ch:      make(chan queued, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Send enqueues msg and returns its message ID. A full queue or closed
// dispatcher drops the message; the caller's state transition has already
// committed by then, so the drop is logged and counted, not surfaced.
func (d *Dispatcher) Send(_ context.Context, msg Message) (string, error) {
	id := uuid.NewString()

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return id, nil
	}

	select {
	case d.ch <- queued{id: id, msg: msg}:
	default:
		d.dropped.Add(1)
		d.logger.Warn("mail queue full, message dropped",
			zap.String("message_id", id),
			zap.String("template", msg.Template),
		)
	}
	return id, nil
}

// Dropped reports how many messages were shed by a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops the worker after draining the queue. Idempotent.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.ch:
			d.deliver(item)
		case <-d.done:
			for {
				select {
				case item := <-d.ch:
					d.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(item queued) {
	ctx := context.Background()
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
	}

	if _, err := d.sender.Send(ctx, item.msg); err != nil {
		d.logger.Error("mail delivery failed",
			zap.String("message_id", item.id),
			zap.String("template", item.msg.Template),
			zap.Error(err),
		)
	}
}
