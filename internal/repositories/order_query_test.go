package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/drbackfit/storefront/internal/domain"
)

func TestFilterOrders(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{ID: "a", OrderNumber: "ORD-20250301-001", Status: domain.OrderStatusPending, CreatedAt: base,
			Customer: domain.CustomerInfo{FirstName: "Asha", LastName: "Rao", Email: "asha@example.com"}},
		{ID: "b", OrderNumber: "ORD-20250301-002", Status: domain.OrderStatusShipped, CreatedAt: base.Add(time.Hour),
			Customer: domain.CustomerInfo{FirstName: "Vikram", LastName: "Mehta", Email: "vik@example.com"}},
		{ID: "c", OrderNumber: "ORD-20250302-001", Status: domain.OrderStatusPending, CreatedAt: base.Add(24 * time.Hour),
			Customer: domain.CustomerInfo{FirstName: "Meera", LastName: "Iyer", Email: "MEERA@EXAMPLE.COM"}},
	}

	ids := func(list []domain.Order) []string {
		out := make([]string, 0, len(list))
		for _, o := range list {
			out = append(out, o.ID)
		}
		return out
	}

	require.Equal(t, []string{"c", "b", "a"}, ids(FilterOrders(orders, OrderListFilter{})))
	require.Equal(t, []string{"a", "b", "c"}, ids(FilterOrders(orders, OrderListFilter{Sort: domain.SortAsc})))
	require.Equal(t, []string{"c", "a"}, ids(FilterOrders(orders, OrderListFilter{Statuses: []domain.OrderStatus{domain.OrderStatusPending}})))
	require.Equal(t, []string{"c"}, ids(FilterOrders(orders, OrderListFilter{Search: "meera@example"})))
	require.Equal(t, []string{"b"}, ids(FilterOrders(orders, OrderListFilter{Search: "mehta"})))
	require.Equal(t, []string{"b", "a"}, ids(FilterOrders(orders, OrderListFilter{Search: "20250301"})))
	require.Empty(t, FilterOrders(orders, OrderListFilter{Search: "nobody"}))
}
