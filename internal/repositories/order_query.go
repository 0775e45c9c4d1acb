package repositories

import (
	"sort"
	"strings"

	domain "github.com/drbackfit/storefront/internal/domain"
)

// FilterOrders applies the status filter, free-text search and createdAt ordering in memory.
// Search matches order number and customer first name, last name or email, ignoring case.
func FilterOrders(orders []domain.Order, filter OrderListFilter) []domain.Order {
	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses[status] = struct{}{}
	}
	term := strings.ToLower(strings.TrimSpace(filter.Search))

	out := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				continue
			}
		}
		if term != "" && !matchesSearch(order, term) {
			continue
		}
		out = append(out, order)
	}

	asc := filter.Sort == domain.SortAsc
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	return out
}

func matchesSearch(order domain.Order, term string) bool {
	for _, field := range []string{
		order.OrderNumber,
		order.Customer.FirstName,
		order.Customer.LastName,
		order.Customer.Email,
	} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}
