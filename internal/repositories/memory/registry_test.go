package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/repositories"
)

func TestRegistrySharesRepositories(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	_, err := reg.MailQueue().Enqueue(ctx, repositories.Mail{To: "asha@example.com", Subject: "Order placed"})
	require.NoError(t, err)
	require.Len(t, reg.Mail().Messages(), 1)

	seq, err := reg.Counters().NextDaily(ctx, "orders", "20260115")
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)

	health, err := repositories.NewDependencyHealthRepository(reg.HealthChecks())
	require.NoError(t, err)
	report, err := health.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)

	require.NoError(t, reg.Close(ctx))
}

func TestRegistryOrdersRoundTrip(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, reg.Orders().Insert(ctx, domain.Order{
		ID:        "ord_1",
		UserID:    "user-1",
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	got, err := reg.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
}
