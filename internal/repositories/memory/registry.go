package memory

import (
	"context"

	"github.com/drbackfit/storefront/internal/repositories"
)

// Registry keeps every repository in process memory. Data is lost on restart.
type Registry struct {
	orders   *OrderRepository
	counters *CounterRepository
	mail     *MailQueue
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs empty in-memory repositories.
func NewRegistry() *Registry {
	return &Registry{
		orders:   NewOrderRepository(),
		counters: NewCounterRepository(),
		mail:     NewMailQueue(),
	}
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) MailQueue() repositories.MailQueue        { return r.mail }

// Mail returns the concrete queue so callers can inspect enqueued messages.
func (r *Registry) Mail() *MailQueue { return r.mail }

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:  "storage",
		Check: func(ctx context.Context) error { return ctx.Err() },
	}}
}

func (r *Registry) Close(context.Context) error { return nil }
