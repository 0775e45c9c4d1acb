package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanCancelOrder(t *testing.T) {
	t.Parallel()

	cases := map[OrderStatus]bool{
		OrderStatusPending:        true,
		OrderStatusConfirmed:      true,
		OrderStatusProcessing:     false,
		OrderStatusShipped:        false,
		OrderStatusOutForDelivery: false,
		OrderStatusDelivered:      false,
		OrderStatusCancelled:      false,
		OrderStatusRefunded:       false,
	}
	require.Len(t, cases, len(OrderStatuses))

	for status, want := range cases {
		require.Equal(t, want, CanCancelOrder(status), "status %s", status)
	}
}

func TestStatusRegistryLookups(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		next   []OrderStatus
		refund bool
		active bool
	}{
		{OrderStatusPending, []OrderStatus{OrderStatusConfirmed, OrderStatusCancelled}, false, true},
		{OrderStatusConfirmed, []OrderStatus{OrderStatusProcessing, OrderStatusCancelled}, false, true},
		{OrderStatusProcessing, []OrderStatus{OrderStatusShipped, OrderStatusCancelled}, false, true},
		{OrderStatusShipped, []OrderStatus{OrderStatusOutForDelivery, OrderStatusDelivered}, false, true},
		{OrderStatusOutForDelivery, []OrderStatus{OrderStatusDelivered}, false, true},
		{OrderStatusDelivered, []OrderStatus{OrderStatusRefunded}, true, false},
		{OrderStatusCancelled, []OrderStatus{}, false, false},
		{OrderStatusRefunded, []OrderStatus{}, false, false},
	}

	for _, tc := range tests {
		require.Equal(t, tc.next, NextStatuses(tc.status), "next for %s", tc.status)
		require.Equal(t, tc.refund, CanRefundOrder(tc.status), "refund for %s", tc.status)
		require.Equal(t, tc.active, IsOrderActive(tc.status), "active for %s", tc.status)
		require.NotEmpty(t, StatusInfo(tc.status).Label)
	}

	require.False(t, IsOrderActive(OrderStatus("archived")))
	require.Empty(t, NextStatuses(OrderStatus("archived")))
}

func TestNextStatusesReturnsCopy(t *testing.T) {
	t.Parallel()

	next := NextStatuses(OrderStatusPending)
	next[0] = OrderStatusRefunded
	require.Equal(t, OrderStatusConfirmed, NextStatuses(OrderStatusPending)[0])
}

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	require.True(t, ValidateTransition(OrderStatusPending, OrderStatusConfirmed).Allowed)
	require.True(t, ValidateTransition(OrderStatusDelivered, OrderStatusRefunded).Allowed)
	require.True(t, ValidateTransition(OrderStatusProcessing, OrderStatusCancelled).Allowed)

	denied := ValidateTransition(OrderStatusShipped, OrderStatusCancelled)
	require.False(t, denied.Allowed)
	require.Equal(t, "order cannot be cancelled in shipped status", denied.Reason)

	denied = ValidateTransition(OrderStatusPending, OrderStatusPending)
	require.False(t, denied.Allowed)

	denied = ValidateTransition(OrderStatusPending, OrderStatusDelivered)
	require.False(t, denied.Allowed)
	require.Equal(t, "order cannot move from pending to delivered", denied.Reason)

	denied = ValidateTransition(OrderStatusCancelled, OrderStatusRefunded)
	require.False(t, denied.Allowed)

	require.False(t, ValidateTransition(OrderStatus("bogus"), OrderStatusConfirmed).Allowed)
	require.False(t, ValidateTransition(OrderStatusPending, OrderStatus("bogus")).Allowed)
}

func TestValidateTransitionAgreesWithRegistry(t *testing.T) {
	t.Parallel()

	for _, from := range OrderStatuses {
		allowed := map[OrderStatus]bool{}
		for _, next := range NextStatuses(from) {
			allowed[next] = true
		}
		for _, to := range OrderStatuses {
			require.Equal(t, allowed[to], ValidateTransition(from, to).Allowed, "%s -> %s", from, to)
		}
	}
}

func TestAppendHistory(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	order := Order{
		Status:        OrderStatusPending,
		StatusHistory: []StatusHistoryEntry{{Status: OrderStatusPending, Timestamp: created}},
	}

	at := created.Add(time.Hour)
	decision := AppendHistory(&order, StatusHistoryEntry{Status: OrderStatusConfirmed, Timestamp: at, UpdatedBy: "admin"})
	require.True(t, decision.Allowed)
	require.Equal(t, OrderStatusConfirmed, order.Status)
	require.Len(t, order.StatusHistory, 2)
	require.Equal(t, at, order.UpdatedAt)

	decision = AppendHistory(&order, StatusHistoryEntry{Status: OrderStatusDelivered})
	require.False(t, decision.Allowed)
	require.Equal(t, OrderStatusConfirmed, order.Status)
	require.Len(t, order.StatusHistory, 2)
}

func TestValidateHistory(t *testing.T) {
	t.Parallel()

	path := []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusOutForDelivery,
		OrderStatusDelivered,
		OrderStatusRefunded,
	}
	entries := make([]StatusHistoryEntry, 0, len(path))
	for _, status := range path {
		entries = append(entries, StatusHistoryEntry{Status: status})
	}
	require.NoError(t, ValidateHistory(entries))

	broken := []StatusHistoryEntry{{Status: OrderStatusPending}, {Status: OrderStatusShipped}}
	err := ValidateHistory(broken)
	var historyErr *HistoryError
	require.ErrorAs(t, err, &historyErr)
	require.Equal(t, 1, historyErr.Index)

	require.Error(t, ValidateHistory([]StatusHistoryEntry{{Status: OrderStatusConfirmed}}))
}
