package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"virtual-market/internal/domain"
	"virtual-market/internal/logging"
)

var errQueueFull = errors.New("hook queue full")

// Hook is a post-commit side effect of an order event.
type Hook interface {
	Name() string
	Handle(ctx context.Context, evt domain.Event) error
}

// Observer is told the outcome of every hook invocation.
type Observer interface {
	NotificationResult(channel string, err error)
}

type DispatcherOptions struct {
	QueueSize int
	Timeout   time.Duration
	Observer  Observer
}

// Dispatcher fans events out to hooks. Every hook owns a FIFO queue and a
// goroutine, so a slow or failing hook never delays the others and each hook
// sees events in emission order.
type Dispatcher struct {
	log      logrus.FieldLogger
	timeout  time.Duration
	observer Observer

	mu     sync.RWMutex
	closed bool
	queues []*hookQueue
	wg     sync.WaitGroup
}

type hookQueue struct {
	hook Hook
	ch   chan domain.Event
}

func NewDispatcher(log logrus.FieldLogger, opts DispatcherOptions, hooks ...Hook) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	d := &Dispatcher{log: log, timeout: opts.Timeout, observer: opts.Observer}
	for _, h := range hooks {
		q := &hookQueue{hook: h, ch: make(chan domain.Event, opts.QueueSize)}
		d.queues = append(d.queues, q)
		d.wg.Add(1)
		go d.run(q)
	}
	return d
}

// Emit enqueues evt for every hook without blocking. A hook whose queue is
// full loses the event.
func (d *Dispatcher) Emit(evt domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, q := range d.queues {
		select {
		case q.ch <- evt:
		default:
			d.entry(q.hook.Name(), evt).Warn("hook queue full, event dropped")
			d.observe(q.hook.Name(), errQueueFull)
		}
	}
}

// Close stops accepting events and waits for queued ones to be handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(q *hookQueue) {
	defer d.wg.Done()
	for evt := range q.ch {
		d.deliver(q.hook, evt)
	}
}

func (d *Dispatcher) deliver(h Hook, evt domain.Event) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("hook panic: %v", r)
			}
		}()
		err = h.Handle(ctx, evt)
	}()

	d.observe(h.Name(), err)
	entry := d.entry(h.Name(), evt).WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Error("notification failed")
		return
	}
	entry.Debug("notification delivered")
}

func (d *Dispatcher) observe(channel string, err error) {
	if d.observer != nil {
		d.observer.NotificationResult(channel, err)
	}
}

func (d *Dispatcher) entry(channel string, evt domain.Event) *logrus.Entry {
	return logging.With(d.log, logging.Fields{
		Component:   "notify",
		Channel:     channel,
		OrderID:     evt.Order.ID.String(),
		OrderNumber: evt.Order.OrderNumber,
		Status:      string(evt.Kind),
	})
}
