package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/drbackfit/storefront/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return nil }},
	}, WithDependencyClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, now, report.Checks["redis"].CheckedAt)
}

func TestDependencyHealthRepositoryDegradedAndTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusDegraded, report.Status)
	require.Equal(t, "connection refused", report.Checks["redis"].Detail)

	repo, err = NewDependencyHealthRepository([]DependencyCheck{
		{Name: "redis", Check: func(context.Context) error { return nil }},
		{
			Name:    "firestore",
			Timeout: 10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	require.NoError(t, err)

	report, err = repo.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusError, report.Status)
	require.Equal(t, "timeout", report.Checks["firestore"].Detail)
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	_, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "", Check: func(context.Context) error { return nil }}})
	require.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	notFound := NewNotFoundError("orders.find", "order o1 not found")
	require.True(t, IsNotFound(notFound))
	require.False(t, IsConflict(notFound))
	require.Equal(t, "orders.find: order o1 not found", notFound.Error())

	wrapped := &CounterError{CounterID: "orders", Day: "20250301", Err: NewUnavailableError("counters.next", errors.New("down"))}
	require.True(t, IsUnavailable(wrapped))
	require.Contains(t, wrapped.Error(), "counter orders for 20250301")
}
