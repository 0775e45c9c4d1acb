package firestore

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/iterator"

	pfirestore "github.com/drbackfit/storefront/internal/platform/firestore"
	"github.com/drbackfit/storefront/internal/repositories"
)

const healthCheckTimeout = 1500 * time.Millisecond

// RegistryOptions tunes the Firestore-backed repositories.
type RegistryOptions struct {
	MailCollection string
	ScanLimit      int
}

// Registry wires every Firestore repository over a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	counters *CounterRepository
	mail     *MailQueue
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repositories. Close releases the provider's client.
func NewRegistry(provider *pfirestore.Provider, opts RegistryOptions) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider, WithScanLimit(opts.ScanLimit))
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	mail, err := NewMailQueue(provider, opts.MailCollection)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		counters: counters,
		mail:     mail,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) MailQueue() repositories.MailQueue        { return r.mail }

// HealthChecks lists collections, which fails fast when credentials or the network are broken.
func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: healthCheckTimeout,
		Check: func(ctx context.Context) error {
			client, err := r.provider.Client(ctx)
			if err != nil {
				return err
			}
			_, err = client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}}
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
