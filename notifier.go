package auth

import (
	"context"
	"sync"
	"time"
)

// NotificationKind distinguishes the messages the auth flows emit.
type NotificationKind string

const (
	NotificationAccountVerification NotificationKind = "account_verification"
	NotificationMFACode             NotificationKind = "mfa_code"
	NotificationPasswordReset       NotificationKind = "password_reset"
	NotificationPasswordChanged     NotificationKind = "password_changed"
)

// Notification is a message for an identity, usually delivered by mail or SMS.
type Notification struct {
	Kind      NotificationKind
	Recipient string
	Subject   string
	Secret    string
	URL       string
	Metadata  map[string]any
}

// Notifier delivers notifications. Implementations wrap a mailer, an SMS
// gateway, or a message broker; failures must not break the auth flow that
// triggered them.
type Notifier interface {
	Notify(ctx context.Context, msg Notification) error
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ctx context.Context, msg Notification) error

func (f NotifierFunc) Notify(ctx context.Context, msg Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) error { return nil }

// Dispatcher fans notifications out to a Notifier through a bounded worker
// pool so slow delivery never blocks a login or registration request.
type Dispatcher struct {
	notifier Notifier
	logger   Logger
	queue    chan Notification
	workers  int
	timeout  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherWorkers sets the worker count, minimum 1.
func WithDispatcherWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDispatcherQueueSize sets the pending queue capacity.
func WithDispatcherQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Notification, n)
		}
	}
}

// WithDispatcherTimeout bounds each delivery attempt.
func WithDispatcherTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(l Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher around the given notifier. Call Start
// before dispatching and Stop to drain on shutdown.
func NewDispatcher(notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	if notifier == nil {
		notifier = noopNotifier{}
	}

	d := &Dispatcher{
		notifier: notifier,
		logger:   defLogger{},
		workers:  4,
		timeout:  time.Second * 30,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	if d.queue == nil {
		d.queue = make(chan Notification, 64)
	}

	return d
}

// Start launches the worker pool. Safe to call more than once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}

// Dispatch enqueues a notification without blocking. When the queue is full
// the message is dropped and logged; auth flows treat delivery as best effort.
func (d *Dispatcher) Dispatch(msg Notification) {
	select {
	case <-d.done:
		d.logger.Warn("notification dispatcher is stopped, dropping message", "kind", msg.Kind)
	case d.queue <- msg:
	default:
		d.logger.Warn("notification queue is full, dropping message", "kind", msg.Kind, "recipient", msg.Recipient)
	}
}

// Notify satisfies the Notifier interface, so a Dispatcher can sit wherever
// a synchronous notifier is expected.
func (d *Dispatcher) Notify(_ context.Context, msg Notification) error {
	d.Dispatch(msg)
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			// drain what is already queued
			for {
				select {
				case msg := <-d.queue:
					d.deliver(msg)
				default:
					return
				}
			}
		case msg := <-d.queue:
			d.deliver(msg)
		}
	}
}

func (d *Dispatcher) deliver(msg Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, msg); err != nil {
		d.logger.Error("notification delivery failed", "kind", msg.Kind, "recipient", msg.Recipient, "error", err)
	}
}
