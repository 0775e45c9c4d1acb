package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state assigned at checkout.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment or manual review accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the warehouse is preparing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery indicates the courier is on the final leg.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is terminal.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentMethod enumerates how the customer chose to pay.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodCOD    PaymentMethod = "cod"
)

// Valid reports whether the method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodPayPal, PaymentMethodCOD:
		return true
	}
	return false
}

// PaymentStatus enumerates the state of the payment sub-record.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Order is the persisted purchase record. Monetary fields are rupees with two decimals.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	Customer          CustomerInfo
	ShippingAddress   Address
	Items             []OrderItem
	Subtotal          float64
	Tax               float64
	Shipping          float64
	Total             float64
	Payment           PaymentInfo
	Status            OrderStatus
	StatusHistory     []StatusHistoryEntry
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Notes             string
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

// OrderItem snapshots a product at the time of checkout.
type OrderItem struct {
	ProductID string
	Title     string
	Slug      string
	Image     string
	Price     float64
	Quantity  int
	Subtotal  float64
}

// CustomerInfo stores the contact snapshot used for notifications.
type CustomerInfo struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// FullName joins first and last name, skipping blanks.
func (c CustomerInfo) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// Address is the shipping destination snapshot.
type Address struct {
	Address string
	City    string
	State   string
	ZipCode string
	Country string
}

// PaymentInfo tracks the payment attached to an order. MerchantOrderID is the id sent to the
// gateway for the current attempt; GatewayOrderID is the gateway's own reference for it.
type PaymentInfo struct {
	Method          PaymentMethod
	Status          PaymentStatus
	TransactionID   string
	LastFourDigits  string
	Provider        string
	MerchantOrderID string
	GatewayOrderID  string
	UpdatedAt       *time.Time
}

// StatusHistoryEntry is one append-only record of a status change.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Note      string
	UpdatedBy string
}

// OrderSummary is the lightweight copy stored under the owning user for listing.
type OrderSummary struct {
	OrderID        string
	OrderNumber    string
	Status         OrderStatus
	Total          float64
	ItemCount      int
	FirstItemTitle string
	FirstItemImage string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SummaryFromOrder builds the denormalized summary for an order.
func SummaryFromOrder(order Order) OrderSummary {
	summary := OrderSummary{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Total:       order.Total,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	for _, item := range order.Items {
		summary.ItemCount += item.Quantity
	}
	if len(order.Items) > 0 {
		summary.FirstItemTitle = order.Items[0].Title
		summary.FirstItemImage = order.Items[0].Image
	}
	return summary
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	if o.EstimatedDelivery != nil {
		ts := *o.EstimatedDelivery
		out.EstimatedDelivery = &ts
	}
	if o.Payment.UpdatedAt != nil {
		ts := *o.Payment.UpdatedAt
		out.Payment.UpdatedAt = &ts
	}
	return out
}
