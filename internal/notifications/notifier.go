package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/repositories"
	"github.com/drbackfit/storefront/internal/services"
)

const defaultEnqueueTimeout = 10 * time.Second

// Dispatcher runs a send job. Implementations decide whether it runs inline or in the background.
type Dispatcher interface {
	Dispatch(job func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(job func())

func (f DispatcherFunc) Dispatch(job func()) { f(job) }

// InlineDispatcher runs jobs on the calling goroutine.
var InlineDispatcher = DispatcherFunc(func(job func()) { job() })

// AsyncDispatcher runs each job on its own goroutine and lets shutdown wait for in-flight sends.
type AsyncDispatcher struct {
	wg sync.WaitGroup
}

func (d *AsyncDispatcher) Dispatch(job func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		job()
	}()
}

// Wait blocks until every dispatched job finishes or ctx is done.
func (d *AsyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifier renders order emails and enqueues them. Failures are logged and never reach the caller.
type Notifier struct {
	queue    repositories.MailQueue
	renderer *Renderer
	dispatch Dispatcher
	logger   *zap.Logger
	timeout  time.Duration
}

var _ services.OrderNotifier = (*Notifier)(nil)

// Option customises a Notifier.
type Option func(*Notifier)

// WithDispatcher overrides the background dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(n *Notifier) {
		if d != nil {
			n.dispatch = d
		}
	}
}

// WithLogger sets the logger used for delivery outcomes.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithEnqueueTimeout bounds each enqueue call.
func WithEnqueueTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

// NewNotifier constructs a Notifier over queue.
func NewNotifier(queue repositories.MailQueue, renderer *Renderer, opts ...Option) (*Notifier, error) {
	if queue == nil {
		return nil, errors.New("notifications: mail queue is required")
	}
	if renderer == nil {
		return nil, errors.New("notifications: renderer is required")
	}
	n := &Notifier{
		queue:    queue,
		renderer: renderer,
		dispatch: &AsyncDispatcher{},
		logger:   zap.NewNop(),
		timeout:  defaultEnqueueTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// SendOrderConfirmation queues the order placed email.
func (n *Notifier) SendOrderConfirmation(ctx context.Context, order domain.Order) {
	n.send(ctx, "confirmation", order, func() (repositories.Mail, error) {
		return n.renderer.Confirmation(order)
	})
}

// SendOrderCancellation queues the cancellation email.
func (n *Notifier) SendOrderCancellation(ctx context.Context, order domain.Order, reason string) {
	n.send(ctx, "cancellation", order, func() (repositories.Mail, error) {
		return n.renderer.Cancellation(order, reason)
	})
}

// SendOrderStatusUpdate queues the status change email. Pending orders get none.
func (n *Notifier) SendOrderStatusUpdate(ctx context.Context, order domain.Order, note string) {
	if order.Status == domain.OrderStatusPending {
		return
	}
	n.send(ctx, "status_update", order, func() (repositories.Mail, error) {
		return n.renderer.StatusUpdate(order, note)
	})
}

func (n *Notifier) send(ctx context.Context, kind string, order domain.Order, render func() (repositories.Mail, error)) {
	if n == nil {
		return
	}
	fields := []zap.Field{
		zap.String("kind", kind),
		zap.String("orderId", order.ID),
		zap.String("orderNumber", order.OrderNumber),
	}
	if order.Customer.Email == "" {
		n.logger.Warn("notification skipped: customer email missing", fields...)
		return
	}

	// The request may finish before the job runs.
	detached := context.WithoutCancel(ctx)
	n.dispatch.Dispatch(func() {
		defer func() {
			if rec := recover(); rec != nil {
				n.logger.Error("notification panicked", append(fields, zap.String("panic", fmt.Sprint(rec)))...)
			}
		}()

		mail, err := render()
		if err != nil {
			n.logger.Error("notification render failed", append(fields, zap.Error(err))...)
			return
		}
		enqueueCtx, cancel := context.WithTimeout(detached, n.timeout)
		defer cancel()
		id, err := n.queue.Enqueue(enqueueCtx, mail)
		if err != nil {
			n.logger.Error("notification enqueue failed", append(fields, zap.Error(err))...)
			return
		}
		n.logger.Info("notification queued", append(fields, zap.String("mailId", id))...)
	})
}
