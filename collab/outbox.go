package collab

import (
	"errors"
	"sync"

	"notion-collab/metrics"

	"github.com/sirupsen/logrus"
)

var (
	ErrOutboxFull   = errors.New("outbox full")
	ErrOutboxClosed = errors.New("outbox closed")
)

// Sink receives events addressed to one session. Deliver must not block.
type Sink interface {
	Deliver(ev Event) error
	Close()
}

// Outbox is a bounded FIFO drained by its own goroutine, so a slow peer
// never stalls the sender that fanned out to it.
type Outbox struct {
	queue   chan Event
	write   func(Event) error
	onClose func()

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewOutbox starts the drain goroutine. onClose, if set, runs once the
// queue is drained after Close.
func NewOutbox(size int, write func(Event) error, onClose func()) *Outbox {
	o := &Outbox{
		queue:   make(chan Event, size),
		write:   write,
		onClose: onClose,
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Outbox) run() {
	defer close(o.done)
	for ev := range o.queue {
		if err := o.write(ev); err != nil {
			metrics.DeliveryFailures.WithLabelValues(ev.Name, "write_error").Inc()
			logrus.WithError(err).WithField("event", ev.Name).Warn("Failed to write event")
		}
	}
	if o.onClose != nil {
		o.onClose()
	}
}

func (o *Outbox) Deliver(ev Event) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- ev:
		return nil
	default:
		return ErrOutboxFull
	}
}

func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.queue)
		o.mu.Unlock()
	})
}

// Done is closed once the outbox has drained after Close.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}
