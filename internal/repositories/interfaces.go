package repositories

import (
	"context"
	"time"

	domain "github.com/drbackfit/storefront/internal/domain"
)

// Registry exposes the repositories of one storage backend.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Counters() CounterRepository
	MailQueue() MailQueue
	// HealthChecks probes the backend for readiness reporting.
	HealthChecks() []DependencyCheck
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation edits an order inside a read-modify-write transaction. Returning an error
// aborts the transaction without writing.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists orders together with the per-user summaries used for history listings.
type OrderRepository interface {
	// Insert stores a new order and its owner's summary. A duplicate ID is a conflict.
	Insert(ctx context.Context, order domain.Order) error
	// FindByID returns a RepositoryError with IsNotFound when the order is absent.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// Mutate applies fn transactionally and mirrors status and updatedAt onto the summary.
	Mutate(ctx context.Context, orderID string, fn OrderMutation) (domain.Order, error)
	// List serves the back-office order table.
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListSummaries returns a user's order summaries, newest first.
	ListSummaries(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.OrderSummary], error)
	// ListAwaitingPayment returns pending orders holding a gateway payment created before cutoff.
	ListAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// OrderListFilter narrows the back-office listing.
type OrderListFilter struct {
	Statuses   []domain.OrderStatus
	Search     string
	Sort       domain.SortOrder
	Pagination domain.Pagination
}

// CounterRepository mints day-scoped sequence numbers.
type CounterRepository interface {
	// NextDaily returns the next number for day (YYYYMMDD), restarting at 1 when day changes.
	NextDaily(ctx context.Context, counterID, day string) (int64, error)
}

// Mail is one outbound message for the Trigger Email queue.
type Mail struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// MailQueue accepts messages for asynchronous delivery and returns the queued message ID.
type MailQueue interface {
	Enqueue(ctx context.Context, mail Mail) (string, error)
}

// HealthRepository evaluates backing dependencies for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
