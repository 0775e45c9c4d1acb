// Package memory provides process-local repositories for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/platform/pagination"
	"github.com/drbackfit/storefront/internal/repositories"
)

// OrderRepository keeps orders and user summaries in maps guarded by one mutex, so Mutate is
// serializable like a Firestore transaction.
type OrderRepository struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	summaries map[string]map[string]domain.OrderSummary
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]domain.Order),
		summaries: make(map[string]map[string]domain.OrderSummary),
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewInvalidError("orders.insert", "order id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return repositories.NewConflictError("orders.insert", "order "+order.ID+" already exists")
	}
	r.orders[order.ID] = order.Clone()
	r.putSummary(order)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.find", "order "+orderID+" not found")
	}
	return order.Clone(), nil
}

func (r *OrderRepository) Mutate(_ context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.mutate", "order "+orderID+" not found")
	}
	working := stored.Clone()
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	r.orders[orderID] = working.Clone()
	r.putSummary(working)
	return working, nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewInvalidError("orders.list", err.Error())
	}

	r.mu.Lock()
	all := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		all = append(all, order.Clone())
	}
	r.mu.Unlock()

	page, next := pagination.OffsetPage(repositories.FilterOrders(all, filter), filter.Pagination.PageSize, cursor)
	return domain.CursorPage[domain.Order]{Items: page, NextPageToken: next}, nil
}

func (r *OrderRepository) ListSummaries(_ context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.OrderSummary], error) {
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderSummary]{}, repositories.NewInvalidError("orders.summaries", err.Error())
	}

	r.mu.Lock()
	items := make([]domain.OrderSummary, 0, len(r.summaries[userID]))
	for _, summary := range r.summaries[userID] {
		items = append(items, summary)
	}
	r.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].OrderID > items[j].OrderID
	})
	out, next := pagination.OffsetPage(items, page.PageSize, cursor)
	return domain.CursorPage[domain.OrderSummary]{Items: out, NextPageToken: next}, nil
}

func (r *OrderRepository) ListAwaitingPayment(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Order
	for _, order := range r.orders {
		if order.Status != domain.OrderStatusPending ||
			order.Payment.Status != domain.PaymentStatusPending ||
			order.Payment.GatewayOrderID == "" ||
			!order.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, order.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Summary returns the stored summary, for tests and diagnostics.
func (r *OrderRepository) Summary(userID, orderID string) (domain.OrderSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary, ok := r.summaries[userID][orderID]
	return summary, ok
}

func (r *OrderRepository) putSummary(order domain.Order) {
	if order.UserID == "" {
		return
	}
	byUser := r.summaries[order.UserID]
	if byUser == nil {
		byUser = make(map[string]domain.OrderSummary)
		r.summaries[order.UserID] = byUser
	}
	byUser[order.ID] = domain.SummaryFromOrder(order)
}
