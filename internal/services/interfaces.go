package services

import (
	"context"
	"time"

	domain "github.com/drbackfit/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderSummary       = domain.OrderSummary
	CustomerInfo       = domain.CustomerInfo
	Address            = domain.Address
	PaymentMethod      = domain.PaymentMethod
	StatusMeta         = domain.StatusMeta
	SystemHealthReport = domain.SystemHealthReport
)

// OrderNumberGenerator mints human-readable order numbers of the form ORD-YYYYMMDD-NNN.
type OrderNumberGenerator interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// OrderService is the single server-authoritative entry point for order reads and writes.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
	ListUserOrders(ctx context.Context, userID string, page Pagination) (domain.CursorPage[OrderSummary], error)
	AllowedTransitions(ctx context.Context, orderID string) (TransitionOptions, error)
}

// PaymentService glues orders to the payment gateway.
type PaymentService interface {
	InitiateOrderPayment(ctx context.Context, cmd InitiateOrderPaymentCommand) (PaymentSession, error)
	ReconcileOrderPayment(ctx context.Context, cmd ReconcileOrderPaymentCommand) (PaymentReconciliation, error)
	HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (PaymentReconciliation, error)
	SweepPendingPayments(ctx context.Context, olderThan time.Duration) (SweepResult, error)
}

// SystemService exposes health reporting for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderNotifier sends customer emails. Implementations never fail the caller.
type OrderNotifier interface {
	SendOrderConfirmation(ctx context.Context, order Order)
	SendOrderCancellation(ctx context.Context, order Order, reason string)
	SendOrderStatusUpdate(ctx context.Context, order Order, note string)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the payload published on every order mutation.
type OrderEvent struct {
	Type           string      `json:"type"`
	OrderID        string      `json:"orderId"`
	OrderNumber    string      `json:"orderNumber"`
	UserID         string      `json:"userId"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previousStatus,omitempty"`
	ActorID        string      `json:"actorId,omitempty"`
	OccurredAt     time.Time   `json:"occurredAt"`
}

// CreateOrderCommand carries checkout input. Prices come from the client cart snapshot.
type CreateOrderCommand struct {
	UserID          string           `validate:"required"`
	Customer        CustomerInput    `validate:"required"`
	ShippingAddress AddressInput     `validate:"required"`
	Items           []OrderItemInput `validate:"required,min=1,dive"`
	PaymentMethod   PaymentMethod    `validate:"required,oneof=card paypal cod"`
	Notes           string           `validate:"max=1000"`
}

// CustomerInput is the contact block submitted at checkout.
type CustomerInput struct {
	Email     string `validate:"required,email"`
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"required,max=100"`
	Phone     string `validate:"required,max=32"`
}

// AddressInput is the shipping block submitted at checkout.
type AddressInput struct {
	Address string `validate:"required,max=300"`
	City    string `validate:"required,max=100"`
	State   string `validate:"required,max=100"`
	ZipCode string `validate:"required,max=20"`
	Country string `validate:"required,max=100"`
}

// OrderItemInput is one cart line.
type OrderItemInput struct {
	ProductID string  `validate:"required"`
	Title     string  `validate:"required"`
	Slug      string
	Image     string
	Price     float64 `validate:"gt=0"`
	Quantity  int     `validate:"gte=1,lte=99"`
}

// CancelOrderCommand is the customer-initiated cancellation.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// UpdateOrderStatusCommand is the admin status change.
type UpdateOrderStatusCommand struct {
	OrderID           string
	Status            OrderStatus
	Note              string
	UpdatedBy         string
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

// GetOrderQuery reads one order. Non-admin callers must own the order.
type GetOrderQuery struct {
	OrderID string
	UserID  string
	AsAdmin bool
}

// ListOrdersQuery is the admin listing filter.
type ListOrdersQuery struct {
	Statuses   []OrderStatus
	Search     string
	Sort       SortOrder
	Pagination Pagination
}

// TransitionOptions describes what an admin can move an order to.
type TransitionOptions struct {
	OrderID string
	Current StatusOption
	Next    []StatusOption
}

// StatusOption pairs a status with its display metadata.
type StatusOption struct {
	Status OrderStatus
	Meta   StatusMeta
}

// InitiateOrderPaymentCommand starts a hosted checkout for an order.
type InitiateOrderPaymentCommand struct {
	OrderID     string
	UserID      string
	RedirectURL string
}

// PaymentSession is where the customer should be sent to pay.
type PaymentSession struct {
	OrderID        string
	Provider       string
	GatewayOrderID string
	RedirectURL    string
	State          string
}

// ReconcileOrderPaymentCommand polls the gateway for an order. UserID is checked when set.
type ReconcileOrderPaymentCommand struct {
	OrderID string
	UserID  string
}

// PaymentCallbackCommand is a verified gateway callback.
type PaymentCallbackCommand struct {
	MerchantOrderID string
	Event           string
}

// PaymentReconciliation reports the outcome of a gateway status check.
type PaymentReconciliation struct {
	Order         Order
	State         string
	PaymentStatus domain.PaymentStatus
	Changed       bool
}

// SweepResult summarises one pending-payment sweep.
type SweepResult struct {
	Checked   int
	Completed int
	Failed    int
	Errors    int
}
