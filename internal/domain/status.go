package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// StatusMeta carries the display metadata shown to customers and staff.
type StatusMeta struct {
	Label       string
	Description string
	Color       string
}

type statusConfig struct {
	meta StatusMeta
	next []OrderStatus
}

// statusRegistry is the single source of truth for which status may follow which.
var statusRegistry = map[OrderStatus]statusConfig{
	OrderStatusPending: {
		meta: StatusMeta{Label: "Pending", Description: "Order received and awaiting confirmation", Color: "yellow"},
		next: []OrderStatus{OrderStatusConfirmed, OrderStatusCancelled},
	},
	OrderStatusConfirmed: {
		meta: StatusMeta{Label: "Confirmed", Description: "Order confirmed and queued for processing", Color: "blue"},
		next: []OrderStatus{OrderStatusProcessing, OrderStatusCancelled},
	},
	OrderStatusProcessing: {
		meta: StatusMeta{Label: "Processing", Description: "Order is being prepared for dispatch", Color: "indigo"},
		next: []OrderStatus{OrderStatusShipped, OrderStatusCancelled},
	},
	OrderStatusShipped: {
		meta: StatusMeta{Label: "Shipped", Description: "Order has left our warehouse", Color: "purple"},
		next: []OrderStatus{OrderStatusOutForDelivery, OrderStatusDelivered},
	},
	OrderStatusOutForDelivery: {
		meta: StatusMeta{Label: "Out for Delivery", Description: "Order is with the courier for final delivery", Color: "orange"},
		next: []OrderStatus{OrderStatusDelivered},
	},
	OrderStatusDelivered: {
		meta: StatusMeta{Label: "Delivered", Description: "Order delivered to the customer", Color: "green"},
		next: []OrderStatus{OrderStatusRefunded},
	},
	OrderStatusCancelled: {
		meta: StatusMeta{Label: "Cancelled", Description: "Order was cancelled", Color: "red"},
	},
	OrderStatusRefunded: {
		meta: StatusMeta{Label: "Refunded", Description: "Payment returned to the customer", Color: "gray"},
	},
}

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := statusRegistry[status]
	return status, ok
}

// Valid reports whether the status is registered.
func (s OrderStatus) Valid() bool {
	_, ok := statusRegistry[s]
	return ok
}

// StatusInfo returns display metadata, falling back to the raw value for unknown statuses.
func StatusInfo(status OrderStatus) StatusMeta {
	if cfg, ok := statusRegistry[status]; ok {
		return cfg.meta
	}
	return StatusMeta{Label: string(status), Color: "gray"}
}

// NextStatuses returns the statuses reachable from status. The result is a copy.
func NextStatuses(status OrderStatus) []OrderStatus {
	cfg, ok := statusRegistry[status]
	if !ok || len(cfg.next) == 0 {
		return []OrderStatus{}
	}
	return slices.Clone(cfg.next)
}

// CanCancelOrder reports whether a customer may still cancel.
func CanCancelOrder(status OrderStatus) bool {
	return status == OrderStatusPending || status == OrderStatusConfirmed
}

// CanRefundOrder reports whether a refund may be issued.
func CanRefundOrder(status OrderStatus) bool {
	return slices.Contains(NextStatuses(status), OrderStatusRefunded)
}

// IsOrderActive reports whether the order still has lifecycle steps ahead of it.
func IsOrderActive(status OrderStatus) bool {
	switch status {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return false
	}
	return status.Valid()
}

// TransitionDecision is the outcome of ValidateTransition.
type TransitionDecision struct {
	Allowed bool
	Reason  string
}

// Allow returns an allowed decision.
func Allow() TransitionDecision { return TransitionDecision{Allowed: true} }

// Deny returns a denied decision carrying a human readable reason.
func Deny(format string, args ...any) TransitionDecision {
	return TransitionDecision{Reason: fmt.Sprintf(format, args...)}
}

// ValidateTransition decides whether an order may move from one status to another.
func ValidateTransition(from, to OrderStatus) TransitionDecision {
	if !from.Valid() {
		return Deny("unknown current status %q", from)
	}
	if !to.Valid() {
		return Deny("unknown target status %q", to)
	}
	if from == to {
		return Deny("order is already %s", from)
	}
	if slices.Contains(statusRegistry[from].next, to) {
		return Allow()
	}
	switch to {
	case OrderStatusCancelled:
		return Deny("order cannot be cancelled in %s status", from)
	case OrderStatusRefunded:
		return Deny("order cannot be refunded in %s status", from)
	}
	return Deny("order cannot move from %s to %s", from, to)
}

// AppendHistory validates the transition to entry.Status, then records it on the order.
// The order is left untouched when the transition is denied.
func AppendHistory(order *Order, entry StatusHistoryEntry) TransitionDecision {
	if order == nil {
		return Deny("order is required")
	}
	decision := ValidateTransition(order.Status, entry.Status)
	if !decision.Allowed {
		return decision
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	order.StatusHistory = append(order.StatusHistory, entry)
	order.Status = entry.Status
	order.UpdatedAt = entry.Timestamp
	return decision
}

// HistoryError describes the first history entry that breaks the transition table.
type HistoryError struct {
	Index int
	From  OrderStatus
	To    OrderStatus
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("status history entry %d: %s does not follow %s", e.Index, e.To, e.From)
}

// ValidateHistory replays entries and checks every step is a registered transition or a repeat.
// The first entry must be pending.
func ValidateHistory(entries []StatusHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if entries[0].Status != OrderStatusPending {
		return &HistoryError{Index: 0, To: entries[0].Status}
	}
	prev := entries[0].Status
	for i := 1; i < len(entries); i++ {
		current := entries[i].Status
		if current != prev && !slices.Contains(statusRegistry[prev].next, current) {
			return &HistoryError{Index: i, From: prev, To: current}
		}
		prev = current
	}
	return nil
}
