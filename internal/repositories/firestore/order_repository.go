package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/drbackfit/storefront/internal/domain"
	pfirestore "github.com/drbackfit/storefront/internal/platform/firestore"
	"github.com/drbackfit/storefront/internal/platform/pagination"
	"github.com/drbackfit/storefront/internal/repositories"
)

const (
	ordersCollection    = "orders"
	usersCollection     = "users"
	userOrdersSubcoll   = "orders"
	defaultScanLimit    = 500
	defaultListPageSize = pagination.DefaultPageSize
)

// OrderRepository stores orders at orders/{orderID} and summaries at users/{uid}/orders/{orderID}.
type OrderRepository struct {
	provider  *pfirestore.Provider
	orders    *pfirestore.Collection[orderDocument]
	scanLimit int
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// OrderRepositoryOption customises the repository.
type OrderRepositoryOption func(*OrderRepository)

// WithScanLimit bounds the documents read by the in-memory search fallback.
func WithScanLimit(limit int) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if limit > 0 {
			r.scanLimit = limit
		}
	}
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, opts ...OrderRepositoryOption) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	repo := &OrderRepository{
		provider:  provider,
		orders:    pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		scanLimit: defaultScanLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Insert creates the order and its summary in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.UserID) == "" {
		return repositories.NewInvalidError("orders.insert", "order id and user id are required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, summaryRef, err := r.refs(ctx, order.ID, order.UserID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, fromDomainOrder(order)); err != nil {
			return err
		}
		return tx.Set(summaryRef, fromDomainSummary(domain.SummaryFromOrder(order)))
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(orderID, doc), nil
}

// Mutate runs fn inside a transaction. Firestore may retry the closure on contention, so fn
// must not have side effects outside the order.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	var (
		result    domain.Order
		mutateErr error
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		mutateErr = nil
		orderRef, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}

		order := toDomainOrder(orderID, doc)
		if err := fn(&order); err != nil {
			mutateErr = err
			return err
		}

		_, summaryRef, err := r.refs(ctx, orderID, order.UserID)
		if err != nil {
			return err
		}
		if err := tx.Set(orderRef, fromDomainOrder(order)); err != nil {
			return err
		}
		if err := tx.Set(summaryRef, fromDomainSummary(domain.SummaryFromOrder(order))); err != nil {
			return err
		}
		result = order
		return nil
	})
	if mutateErr != nil {
		return domain.Order{}, mutateErr
	}
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// List uses an indexed createdAt query with keyed cursors. Searches, and queries the backend
// rejects for a missing composite index, fall back to a bounded scan filtered in memory.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewInvalidError("orders.list", err.Error())
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}

	if strings.TrimSpace(filter.Search) == "" && cursor.Offset == 0 {
		page, err := r.listIndexed(ctx, filter, cursor, pageSize)
		if err == nil || !pfirestore.IsMissingIndex(err) {
			return page, err
		}
	}
	return r.listScan(ctx, filter, cursor, pageSize)
}

func (r *OrderRepository) listIndexed(ctx context.Context, filter repositories.OrderListFilter, cursor pagination.Cursor, pageSize int) (domain.CursorPage[domain.Order], error) {
	dir := firestore.Desc
	if filter.Sort == domain.SortAsc {
		dir = firestore.Asc
	}

	orders, err := r.scan(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Statuses) > 0 {
			values := make([]string, 0, len(filter.Statuses))
			for _, status := range filter.Statuses {
				values = append(values, string(status))
			}
			q = q.Where("status", "in", values)
		}
		q = q.OrderBy("createdAt", dir).OrderBy(firestore.DocumentID, dir)
		if !cursor.AfterCreatedAt.IsZero() && cursor.AfterID != "" {
			q = q.StartAfter(cursor.AfterCreatedAt, cursor.AfterID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		page.Items = orders[:pageSize]
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{AfterCreatedAt: last.CreatedAt, AfterID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (r *OrderRepository) listScan(ctx context.Context, filter repositories.OrderListFilter, cursor pagination.Cursor, pageSize int) (domain.CursorPage[domain.Order], error) {
	all, err := r.scan(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc).Limit(r.scanLimit)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	items, next := pagination.OffsetPage(repositories.FilterOrders(all, filter), pageSize, cursor)
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

func (r *OrderRepository) ListSummaries(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.OrderSummary], error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CursorPage[domain.OrderSummary]{}, repositories.NewInvalidError("orders.summaries", "user id is required")
	}
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderSummary]{}, repositories.NewInvalidError("orders.summaries", err.Error())
	}
	pageSize := page.PageSize
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}

	coll, err := r.provider.Collection(ctx, usersCollection)
	if err != nil {
		return domain.CursorPage[domain.OrderSummary]{}, err
	}
	q := coll.Doc(userID).Collection(userOrdersSubcoll).Query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.AfterCreatedAt.IsZero() && cursor.AfterID != "" {
		q = q.StartAfter(cursor.AfterCreatedAt, cursor.AfterID)
	}

	iter := q.Limit(pageSize + 1).Documents(ctx)
	defer iter.Stop()

	result := domain.CursorPage[domain.OrderSummary]{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.OrderSummary]{}, pfirestore.WrapError("orders.summaries", err)
		}
		if len(result.Items) == pageSize {
			last := result.Items[len(result.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{AfterCreatedAt: last.CreatedAt, AfterID: last.OrderID})
			if err != nil {
				return domain.CursorPage[domain.OrderSummary]{}, err
			}
			result.NextPageToken = token
			break
		}
		doc, err := pfirestore.Decode[orderSummaryDocument](snap)
		if err != nil {
			return domain.CursorPage[domain.OrderSummary]{}, err
		}
		result.Items = append(result.Items, toDomainSummary(snap.Ref.ID, doc))
	}
	return result, nil
}

// ListAwaitingPayment returns the oldest orders whose gateway payment is still pending. Without
// the composite index it falls back to the single-field status index and filters in memory.
func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	pending, err := r.scan(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OrderStatusPending)).
			Where("payment.status", "==", string(domain.PaymentStatusPending)).
			Where("createdAt", "<", cutoff).
			OrderBy("createdAt", firestore.Asc).
			Limit(r.scanLimit)
	})
	if pfirestore.IsMissingIndex(err) {
		pending, err = r.scan(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("status", "==", string(domain.OrderStatusPending)).Limit(r.scanLimit)
		})
	}
	if err != nil {
		return nil, err
	}

	var out []domain.Order
	for _, order := range pending {
		if order.Payment.Status != domain.PaymentStatusPending || order.Payment.GatewayOrderID == "" || !order.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, order)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) scan(ctx context.Context, build pfirestore.QueryBuilder) ([]domain.Order, error) {
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return nil, err
	}
	iter := build(coll.Query).Documents(ctx)
	defer iter.Stop()

	var out []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.scan", err)
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, toDomainOrder(snap.Ref.ID, doc))
	}
}

func (r *OrderRepository) refs(ctx context.Context, orderID, userID string) (*firestore.DocumentRef, *firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, nil, fmt.Errorf("order %s has no owner", orderID)
	}
	orderRef := client.Collection(ordersCollection).Doc(orderID)
	summaryRef := client.Collection(usersCollection).Doc(userID).Collection(userOrdersSubcoll).Doc(orderID)
	return orderRef, summaryRef, nil
}
