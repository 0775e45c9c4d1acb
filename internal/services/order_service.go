package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/repositories"
)

const (
	OrderEventCreated       = "order.created"
	OrderEventCancelled     = "order.cancelled"
	OrderEventStatusChanged = "order.status_changed"

	orderIDPrefix = "ord_"

	orderPlacedNote = "Order placed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("invalid order input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderUnauthorized indicates the caller does not own the order.
	ErrOrderUnauthorized = errors.New("unauthorized: order does not belong to user")
	// ErrOrderInvalidState indicates a transition the status table does not allow.
	ErrOrderInvalidState = errors.New("invalid order status transition")
	// ErrOrderConflict indicates a duplicate or a write that lost a race.
	ErrOrderConflict = errors.New("order conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order store unavailable")
)

// StatusTransitionError is returned when an order cannot move to the requested status.
// It matches ErrOrderInvalidState with errors.Is.
type StatusTransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Reason string
}

func (e *StatusTransitionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}

func (e *StatusTransitionError) Is(target error) bool {
	return target == ErrOrderInvalidState
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	OrderNumbers OrderNumberGenerator
	Notifier     OrderNotifier
	Events       OrderEventPublisher
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
	// TaxRate is a fraction, 0.08 for 8%.
	TaxRate      float64
	ShippingFlat float64
}

type orderService struct {
	orders       repositories.OrderRepository
	orderNumbers OrderNumberGenerator
	notifier     OrderNotifier
	events       OrderEventPublisher
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
	validate     *validator.Validate
	taxRate      float64
	shipping     float64
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.OrderNumbers == nil {
		return nil, errors.New("order service: order number generator is required")
	}
	if deps.TaxRate < 0 || deps.TaxRate >= 1 {
		return nil, fmt.Errorf("order service: tax rate %v out of range", deps.TaxRate)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:       deps.Orders,
		orderNumbers: deps.OrderNumbers,
		notifier:     deps.Notifier,
		events:       deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		taxRate:  deps.TaxRate,
		shipping: deps.ShippingFlat,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	cmd = normaliseCreateCommand(cmd)
	if err := s.validate.StructCtx(ctx, cmd); err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderInvalidInput, describeValidation(err))
	}

	items := buildOrderItems(cmd.Items)
	totals := domain.ComputeTotals(items, s.taxRate, s.shipping)

	number, err := s.orderNumbers.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: number,
		UserID:      cmd.UserID,
		Customer: CustomerInfo{
			Email:     cmd.Customer.Email,
			FirstName: cmd.Customer.FirstName,
			LastName:  cmd.Customer.LastName,
			Phone:     cmd.Customer.Phone,
		},
		ShippingAddress: Address(cmd.ShippingAddress),
		Items:           items,
		Payment: domain.PaymentInfo{
			Method: cmd.PaymentMethod,
			Status: domain.PaymentStatusPending,
		},
		Status: domain.OrderStatusPending,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status:    domain.OrderStatusPending,
			Timestamp: now,
			Note:      orderPlacedNote,
			UpdatedBy: cmd.UserID,
		}},
		CreatedAt: now,
		UpdatedAt: now,
		Notes:     cmd.Notes,
	}
	order.ApplyTotals(totals)

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Total,
		"items":       len(order.Items),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:        OrderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		ActorID:     cmd.UserID,
		OccurredAt:  now,
	})
	if s.notifier != nil {
		s.notifier.SendOrderConfirmation(ctx, order)
	}

	return order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)

	var previous OrderStatus
	order, err := s.orders.Mutate(ctx, orderID, func(order *Order) error {
		if order.UserID != userID {
			return ErrOrderUnauthorized
		}
		if !domain.CanCancelOrder(order.Status) {
			return &StatusTransitionError{
				From:   order.Status,
				To:     domain.OrderStatusCancelled,
				Reason: fmt.Sprintf("order cannot be cancelled in %s status", order.Status),
			}
		}
		previous = order.Status
		return s.appendHistory(order, domain.StatusHistoryEntry{
			Status:    domain.OrderStatusCancelled,
			Timestamp: s.now(),
			Note:      cancellationNote(reason),
			UpdatedBy: userID,
		})
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId":        order.ID,
		"previousStatus": string(previous),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		ActorID:        userID,
		OccurredAt:     order.UpdatedAt,
	})
	if s.notifier != nil {
		s.notifier.SendOrderCancellation(ctx, order, reason)
	}

	return order, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.Status))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	note := strings.TrimSpace(cmd.Note)
	actor := strings.TrimSpace(cmd.UpdatedBy)

	var previous OrderStatus
	order, err := s.orders.Mutate(ctx, orderID, func(order *Order) error {
		previous = order.Status
		if err := s.appendHistory(order, domain.StatusHistoryEntry{
			Status:    target,
			Timestamp: s.now(),
			Note:      note,
			UpdatedBy: actor,
		}); err != nil {
			return err
		}
		if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
			order.TrackingNumber = tracking
		}
		if cmd.EstimatedDelivery != nil {
			eta := cmd.EstimatedDelivery.UTC()
			order.EstimatedDelivery = &eta
		}
		if target == domain.OrderStatusRefunded && order.Payment.Status == domain.PaymentStatusCompleted {
			order.Payment.Status = domain.PaymentStatusRefunded
			order.Payment.UpdatedAt = &order.UpdatedAt
		}
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.afterStatusChange(ctx, order, previous, actor, note)
	return order, nil
}

// afterStatusChange runs the side effects of a committed status change.
func (s *orderService) afterStatusChange(ctx context.Context, order Order, previous OrderStatus, actor, note string) {
	eventType := OrderEventStatusChanged
	if order.Status == domain.OrderStatusCancelled {
		eventType = OrderEventCancelled
	}

	s.logger(ctx, "order.status.updated", map[string]any{
		"orderId":        order.ID,
		"status":         string(order.Status),
		"previousStatus": string(previous),
		"updatedBy":      actor,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
	})

	if s.notifier == nil {
		return
	}
	switch order.Status {
	case domain.OrderStatusPending:
	case domain.OrderStatusCancelled:
		s.notifier.SendOrderCancellation(ctx, order, note)
	default:
		s.notifier.SendOrderStatusUpdate(ctx, order, note)
	}
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !query.AsAdmin && order.UserID != strings.TrimSpace(query.UserID) {
		return Order{}, ErrOrderUnauthorized
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error) {
	for _, status := range query.Statuses {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	switch query.Sort {
	case "", domain.SortAsc, domain.SortDesc:
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown sort %q", ErrOrderInvalidInput, query.Sort)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Statuses:   query.Statuses,
		Search:     strings.TrimSpace(query.Search),
		Sort:       query.Sort,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, page Pagination) (domain.CursorPage[OrderSummary], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[OrderSummary]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	result, err := s.orders.ListSummaries(ctx, userID, page)
	if err != nil {
		return domain.CursorPage[OrderSummary]{}, mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) AllowedTransitions(ctx context.Context, orderID string) (TransitionOptions, error) {
	order, err := s.GetOrder(ctx, GetOrderQuery{OrderID: orderID, AsAdmin: true})
	if err != nil {
		return TransitionOptions{}, err
	}

	options := TransitionOptions{
		OrderID: order.ID,
		Current: StatusOption{Status: order.Status, Meta: domain.StatusInfo(order.Status)},
		Next:    []StatusOption{},
	}
	for _, next := range domain.NextStatuses(order.Status) {
		options.Next = append(options.Next, StatusOption{Status: next, Meta: domain.StatusInfo(next)})
	}
	return options, nil
}

func (s *orderService) appendHistory(order *Order, entry domain.StatusHistoryEntry) error {
	from := order.Status
	decision := domain.AppendHistory(order, entry)
	if !decision.Allowed {
		return &StatusTransitionError{From: from, To: entry.Status, Reason: decision.Reason}
	}
	return nil
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderUnauthorized) || errors.Is(err, ErrOrderInvalidState) {
		return err
	}

	var invalid *repositories.Error
	if errors.As(err, &invalid) && invalid.IsInvalid() {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err,
			"status": string(event.Status),
		})
	}
}

func normaliseCreateCommand(cmd CreateOrderCommand) CreateOrderCommand {
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	cmd.Customer.Email = strings.ToLower(strings.TrimSpace(cmd.Customer.Email))
	cmd.Customer.FirstName = strings.TrimSpace(cmd.Customer.FirstName)
	cmd.Customer.LastName = strings.TrimSpace(cmd.Customer.LastName)
	cmd.Customer.Phone = strings.TrimSpace(cmd.Customer.Phone)
	cmd.ShippingAddress.Address = strings.TrimSpace(cmd.ShippingAddress.Address)
	cmd.ShippingAddress.City = strings.TrimSpace(cmd.ShippingAddress.City)
	cmd.ShippingAddress.State = strings.TrimSpace(cmd.ShippingAddress.State)
	cmd.ShippingAddress.ZipCode = strings.TrimSpace(cmd.ShippingAddress.ZipCode)
	cmd.ShippingAddress.Country = strings.TrimSpace(cmd.ShippingAddress.Country)
	cmd.PaymentMethod = PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod))))
	cmd.Notes = strings.TrimSpace(cmd.Notes)
	return cmd
}

func buildOrderItems(inputs []OrderItemInput) []OrderItem {
	items := make([]OrderItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, OrderItem{
			ProductID: strings.TrimSpace(in.ProductID),
			Title:     strings.TrimSpace(in.Title),
			Slug:      strings.TrimSpace(in.Slug),
			Image:     strings.TrimSpace(in.Image),
			Price:     in.Price,
			Quantity:  in.Quantity,
		})
	}
	return items
}

func cancellationNote(reason string) string {
	if reason == "" {
		return "Cancelled by customer"
	}
	return "Cancelled by customer: " + reason
}

// describeValidation flattens validator errors into "Field: tag" pairs.
func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "CreateOrderCommand.")
		parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
