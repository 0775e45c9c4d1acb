package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/repositories"
)

func sampleOrder(id, user string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "ORD-20250301-" + id,
		UserID:      user,
		Status:      domain.OrderStatusPending,
		Items:       []domain.OrderItem{{ProductID: "sofa-1", Title: "Oak Sofa", Price: 100, Quantity: 2, Subtotal: 200}},
		Total:       216,
		Payment:     domain.PaymentInfo{Method: domain.PaymentMethodCard, Status: domain.PaymentStatusPending},
		StatusHistory: []domain.StatusHistoryEntry{
			{Status: domain.OrderStatusPending, Timestamp: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepositoryInsertAndFind(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, sampleOrder("001", "u1", created)))
	require.True(t, repositories.IsConflict(repo.Insert(ctx, sampleOrder("001", "u1", created))))

	got, err := repo.FindByID(ctx, "001")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)

	got.Items[0].Title = "mutated"
	again, _ := repo.FindByID(ctx, "001")
	require.Equal(t, "Oak Sofa", again.Items[0].Title)

	_, err = repo.FindByID(ctx, "missing")
	require.True(t, repositories.IsNotFound(err))

	summary, ok := repo.Summary("u1", "001")
	require.True(t, ok)
	require.Equal(t, 2, summary.ItemCount)
	require.Equal(t, "Oak Sofa", summary.FirstItemTitle)
}

func TestOrderRepositoryMutateMirrorsSummary(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Insert(ctx, sampleOrder("001", "u1", created)))

	later := created.Add(time.Hour)
	updated, err := repo.Mutate(ctx, "001", func(order *domain.Order) error {
		order.Status = domain.OrderStatusConfirmed
		order.UpdatedAt = later
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, updated.Status)

	summary, _ := repo.Summary("u1", "001")
	require.Equal(t, domain.OrderStatusConfirmed, summary.Status)
	require.Equal(t, later, summary.UpdatedAt)

	boom := errors.New("abort")
	_, err = repo.Mutate(ctx, "001", func(order *domain.Order) error {
		order.Status = domain.OrderStatusCancelled
		return boom
	})
	require.ErrorIs(t, err, boom)
	stored, _ := repo.FindByID(ctx, "001")
	require.Equal(t, domain.OrderStatusConfirmed, stored.Status)

	_, err = repo.Mutate(ctx, "missing", func(*domain.Order) error { return nil })
	require.True(t, repositories.IsNotFound(err))
}

func TestOrderRepositoryListsAndPages(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"001", "002", "003"} {
		require.NoError(t, repo.Insert(ctx, sampleOrder(id, "u1", base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, repo.Insert(ctx, sampleOrder("004", "u2", base)))

	first, err := repo.ListSummaries(ctx, "u1", domain.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.Equal(t, "003", first.Items[0].OrderID)
	require.NotEmpty(t, first.NextPageToken)

	second, err := repo.ListSummaries(ctx, "u1", domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Equal(t, "001", second.Items[0].OrderID)
	require.Empty(t, second.NextPageToken)

	all, err := repo.List(ctx, repositories.OrderListFilter{Sort: domain.SortAsc, Pagination: domain.Pagination{PageSize: 10}})
	require.NoError(t, err)
	require.Len(t, all.Items, 4)

	_, err = repo.List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageToken: "!!"}})
	require.Error(t, err)
}

func TestOrderRepositoryListAwaitingPayment(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	withGateway := sampleOrder("001", "u1", base)
	withGateway.Payment.GatewayOrderID = "OMO123"
	require.NoError(t, repo.Insert(ctx, withGateway))

	noGateway := sampleOrder("002", "u1", base)
	require.NoError(t, repo.Insert(ctx, noGateway))

	fresh := sampleOrder("003", "u1", base.Add(time.Hour))
	fresh.Payment.GatewayOrderID = "OMO456"
	require.NoError(t, repo.Insert(ctx, fresh))

	got, err := repo.ListAwaitingPayment(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "001", got[0].ID)
}

func TestMailQueueRecordsMessages(t *testing.T) {
	queue := NewMailQueue()
	id, err := queue.Enqueue(context.Background(), repositories.Mail{To: "asha@example.com", Subject: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, queue.Messages(), 1)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = queue.Enqueue(cancelled, repositories.Mail{})
	require.ErrorIs(t, err, context.Canceled)
}
