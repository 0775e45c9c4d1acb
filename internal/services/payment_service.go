package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/payments"
	"github.com/drbackfit/storefront/internal/repositories"
)

const (
	paymentActor         = "system:payments"
	paymentCompletedNote = "payment completed"
	defaultSweepBatch    = 100
	defaultAttemptTTL    = 20 * time.Minute
	redirectOrderToken   = "{orderId}"
)

var (
	// ErrPaymentFailed indicates the gateway rejected the request.
	ErrPaymentFailed = errors.New("payment gateway request failed")
	// ErrPaymentUnavailable indicates no gateway is configured or reachable.
	ErrPaymentUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentNotPayable indicates the order is not awaiting an online payment.
	ErrPaymentNotPayable = fmt.Errorf("%w: order is not awaiting online payment", ErrOrderInvalidState)
	// ErrPaymentNotInitiated indicates no gateway payment exists for the order.
	ErrPaymentNotInitiated = fmt.Errorf("%w: no payment has been started for this order", ErrOrderInvalidState)
	// ErrPaymentInProgress indicates an earlier checkout for the order can still be paid.
	ErrPaymentInProgress = fmt.Errorf("%w: a payment for this order is still in progress", ErrOrderInvalidState)

	errPaymentUnchanged = errors.New("payment unchanged")
)

// PaymentGatewayError carries the gateway's own failure code and message.
type PaymentGatewayError struct {
	Code    string
	Message string
}

func (e *PaymentGatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("payment gateway error %s", e.Code)
	}
	return fmt.Sprintf("payment gateway error %s: %s", e.Code, e.Message)
}

func (e *PaymentGatewayError) Is(target error) bool {
	return target == ErrPaymentFailed
}

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	InitiatePayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InitiateRequest) (payments.InitiateResult, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.StatusResult, error)
}

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Orders      repositories.OrderRepository
	Gateway     paymentGateway
	Notifier    OrderNotifier
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Currency    string
	// RedirectURL is used when the caller supplies none. "{orderId}" is replaced with the order id.
	RedirectURL string
	SweepBatch  int
	// AttemptTTL is how long a started checkout stays payable at the gateway.
	AttemptTTL time.Duration
}

type paymentService struct {
	orders      repositories.OrderRepository
	gateway     paymentGateway
	notifier    OrderNotifier
	events      OrderEventPublisher
	now         func() time.Time
	newID       func() string
	logger      func(ctx context.Context, event string, fields map[string]any)
	currency    string
	redirectURL string
	sweepBatch  int
	attemptTTL  time.Duration
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs a PaymentService. A nil gateway yields a service whose payment
// calls fail with ErrPaymentUnavailable.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
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
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	batch := deps.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	attemptTTL := deps.AttemptTTL
	if attemptTTL <= 0 {
		attemptTTL = defaultAttemptTTL
	}

	return &paymentService{
		orders:   deps.Orders,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		logger:      logger,
		currency:    currency,
		redirectURL: strings.TrimSpace(deps.RedirectURL),
		sweepBatch:  batch,
		attemptTTL:  attemptTTL,
	}, nil
}

func (s *paymentService) InitiateOrderPayment(ctx context.Context, cmd InitiateOrderPaymentCommand) (PaymentSession, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return PaymentSession{}, fmt.Errorf("%w: order id and user id are required", ErrOrderInvalidInput)
	}
	if s.gateway == nil {
		return PaymentSession{}, ErrPaymentUnavailable
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentSession{}, mapRepositoryError(err)
	}
	if order.UserID != userID {
		return PaymentSession{}, ErrOrderUnauthorized
	}
	if !awaitingOnlinePayment(order) {
		return PaymentSession{}, ErrPaymentNotPayable
	}
	if order.Payment.MerchantOrderID != "" && order.Payment.Status == domain.PaymentStatusPending {
		order, err = s.settlePreviousAttempt(ctx, order)
		if err != nil {
			return PaymentSession{}, err
		}
	}

	redirect := strings.TrimSpace(cmd.RedirectURL)
	if redirect == "" {
		redirect = strings.ReplaceAll(s.redirectURL, redirectOrderToken, order.ID)
	}
	if redirect == "" {
		return PaymentSession{}, fmt.Errorf("%w: redirect url is required", ErrOrderInvalidInput)
	}

	// PhonePe rejects a reused merchant order id, so retries get a fresh suffix.
	merchantOrderID := order.ID
	if order.Payment.MerchantOrderID != "" {
		merchantOrderID = order.ID + "-" + s.newID()
	}

	result, err := s.gateway.InitiatePayment(ctx, payments.PaymentContext{Currency: s.currency}, payments.InitiateRequest{
		MerchantOrderID: merchantOrderID,
		Amount:          order.Total,
		Currency:        s.currency,
		RedirectURL:     redirect,
		Message:         "Payment for order " + order.OrderNumber,
		UDF:             map[string]string{"udf1": order.OrderNumber},
	})
	if err != nil {
		return PaymentSession{}, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	if !result.Success {
		s.logger(ctx, "payment.initiate.failed", map[string]any{
			"orderId":  order.ID,
			"provider": result.Provider,
			"code":     result.Code,
			"message":  result.Message,
		})
		return PaymentSession{}, &PaymentGatewayError{Code: result.Code, Message: result.Message}
	}

	now := s.now()
	_, err = s.orders.Mutate(ctx, order.ID, func(o *Order) error {
		if !awaitingOnlinePayment(*o) {
			return ErrPaymentNotPayable
		}
		o.Payment.Status = domain.PaymentStatusPending
		o.Payment.Provider = result.Provider
		o.Payment.MerchantOrderID = merchantOrderID
		o.Payment.GatewayOrderID = result.OrderID
		o.Payment.UpdatedAt = &now
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return PaymentSession{}, mapRepositoryError(err)
	}

	s.logger(ctx, "payment.initiated", map[string]any{
		"orderId":         order.ID,
		"merchantOrderId": merchantOrderID,
		"gatewayOrderId":  result.OrderID,
		"provider":        result.Provider,
	})
	return PaymentSession{
		OrderID:        order.ID,
		Provider:       result.Provider,
		GatewayOrderID: result.OrderID,
		RedirectURL:    result.RedirectURL,
		State:          result.State,
	}, nil
}

func (s *paymentService) ReconcileOrderPayment(ctx context.Context, cmd ReconcileOrderPaymentCommand) (PaymentReconciliation, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentReconciliation{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentReconciliation{}, mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return PaymentReconciliation{}, ErrOrderUnauthorized
	}
	return s.reconcile(ctx, order)
}

// HandleCallback re-checks the referenced payment with the gateway. The callback body is only a
// hint; the status call is authoritative.
func (s *paymentService) HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (PaymentReconciliation, error) {
	merchantOrderID := strings.TrimSpace(cmd.MerchantOrderID)
	if merchantOrderID == "" {
		return PaymentReconciliation{}, fmt.Errorf("%w: merchant order id is required", ErrOrderInvalidInput)
	}
	orderID, _, _ := strings.Cut(merchantOrderID, "-")

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentReconciliation{}, mapRepositoryError(err)
	}
	if order.Payment.MerchantOrderID == merchantOrderID {
		return s.reconcile(ctx, order)
	}
	// A superseded checkout can still be paid through its own redirect.
	s.logger(ctx, "payment.callback.earlier_attempt", map[string]any{
		"orderId":         order.ID,
		"merchantOrderId": merchantOrderID,
		"currentAttempt":  order.Payment.MerchantOrderID,
		"event":           cmd.Event,
	})
	if s.gateway == nil {
		return PaymentReconciliation{}, ErrPaymentUnavailable
	}
	return s.reconcileAttempt(ctx, order, payments.LookupRequest{MerchantOrderID: merchantOrderID}, false)
}

func (s *paymentService) SweepPendingPayments(ctx context.Context, olderThan time.Duration) (SweepResult, error) {
	if s.gateway == nil {
		return SweepResult{}, ErrPaymentUnavailable
	}
	if olderThan < 0 {
		olderThan = 0
	}
	cutoff := s.now().Add(-olderThan)
	orders, err := s.orders.ListAwaitingPayment(ctx, cutoff, s.sweepBatch)
	if err != nil {
		return SweepResult{}, mapRepositoryError(err)
	}

	var result SweepResult
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		outcome, err := s.reconcile(ctx, order)
		if err != nil {
			result.Errors++
			s.logger(ctx, "payment.sweep.order_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			continue
		}
		switch outcome.PaymentStatus {
		case domain.PaymentStatusCompleted:
			if outcome.Changed {
				result.Completed++
			}
		case domain.PaymentStatusFailed:
			if outcome.Changed {
				result.Failed++
			}
		}
	}

	s.logger(ctx, "payment.sweep.completed", map[string]any{
		"checked":   result.Checked,
		"completed": result.Completed,
		"failed":    result.Failed,
		"errors":    result.Errors,
	})
	return result, nil
}

// settlePreviousAttempt checks the attempt already recorded on order before a new one is minted,
// so a customer who paid in another tab is not charged twice.
func (s *paymentService) settlePreviousAttempt(ctx context.Context, order Order) (Order, error) {
	outcome, err := s.reconcile(ctx, order)
	if err != nil {
		return Order{}, err
	}
	switch outcome.PaymentStatus {
	case domain.PaymentStatusCompleted, domain.PaymentStatusRefunded:
		return Order{}, ErrPaymentNotPayable
	case domain.PaymentStatusFailed:
		return outcome.Order, nil
	}
	started := order.Payment.UpdatedAt
	if started != nil && s.now().Before(started.Add(s.attemptTTL)) {
		return Order{}, ErrPaymentInProgress
	}
	s.logger(ctx, "payment.attempt.expired", map[string]any{
		"orderId":         order.ID,
		"merchantOrderId": order.Payment.MerchantOrderID,
		"state":           outcome.State,
	})
	return outcome.Order, nil
}

func (s *paymentService) reconcile(ctx context.Context, order Order) (PaymentReconciliation, error) {
	if s.gateway == nil {
		return PaymentReconciliation{}, ErrPaymentUnavailable
	}
	if order.Payment.MerchantOrderID == "" {
		return PaymentReconciliation{}, ErrPaymentNotInitiated
	}
	return s.reconcileAttempt(ctx, order, payments.LookupRequest{
		MerchantOrderID: order.Payment.MerchantOrderID,
		GatewayOrderID:  order.Payment.GatewayOrderID,
	}, true)
}

// reconcileAttempt applies the gateway state of one checkout attempt. Only a completed payment is
// applied for an attempt that is no longer current.
func (s *paymentService) reconcileAttempt(ctx context.Context, order Order, attempt payments.LookupRequest, current bool) (PaymentReconciliation, error) {
	status, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{PreferredProvider: order.Payment.Provider}, attempt)
	if err != nil {
		return PaymentReconciliation{}, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	if !status.Success && status.State == "" {
		return PaymentReconciliation{}, &PaymentGatewayError{Code: status.Code, Message: status.Message}
	}

	switch {
	case status.State == payments.StateCompleted:
		return s.markCompleted(ctx, order, attempt.MerchantOrderID, status)
	case status.State == payments.StateFailed && current:
		return s.markFailed(ctx, order, status)
	default:
		return PaymentReconciliation{
			Order:         order,
			State:         status.State,
			PaymentStatus: order.Payment.Status,
		}, nil
	}
}

func (s *paymentService) markCompleted(ctx context.Context, order Order, merchantOrderID string, status payments.StatusResult) (PaymentReconciliation, error) {
	var previous OrderStatus
	var confirmed bool
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *Order) error {
		if o.Payment.Status == domain.PaymentStatusCompleted || o.Payment.Status == domain.PaymentStatusRefunded {
			return errPaymentUnchanged
		}
		now := s.now()
		previous = o.Status
		o.Payment.Status = domain.PaymentStatusCompleted
		if o.Payment.MerchantOrderID != merchantOrderID {
			o.Payment.MerchantOrderID = merchantOrderID
			o.Payment.GatewayOrderID = ""
		}
		o.Payment.TransactionID = status.TransactionID
		if status.LastFourDigits != "" {
			o.Payment.LastFourDigits = status.LastFourDigits
		}
		o.Payment.UpdatedAt = &now
		o.UpdatedAt = now
		confirmed = false
		if o.Status != domain.OrderStatusPending {
			return nil
		}
		decision := domain.AppendHistory(o, domain.StatusHistoryEntry{
			Status:    domain.OrderStatusConfirmed,
			Timestamp: now,
			Note:      paymentCompletedNote,
			UpdatedBy: paymentActor,
		})
		if !decision.Allowed {
			return &StatusTransitionError{From: o.Status, To: domain.OrderStatusConfirmed, Reason: decision.Reason}
		}
		confirmed = true
		return nil
	})
	if errors.Is(err, errPaymentUnchanged) {
		return s.unchanged(ctx, order, status.State)
	}
	if err != nil {
		return PaymentReconciliation{}, mapRepositoryError(err)
	}

	s.logger(ctx, "payment.completed", map[string]any{
		"orderId":         updated.ID,
		"merchantOrderId": merchantOrderID,
		"transactionId":   status.TransactionID,
		"confirmed":       confirmed,
	})
	if confirmed {
		s.publishEvent(ctx, OrderEvent{
			Type:           OrderEventStatusChanged,
			OrderID:        updated.ID,
			OrderNumber:    updated.OrderNumber,
			UserID:         updated.UserID,
			Status:         updated.Status,
			PreviousStatus: previous,
			ActorID:        paymentActor,
			OccurredAt:     updated.UpdatedAt,
		})
		if s.notifier != nil {
			s.notifier.SendOrderStatusUpdate(ctx, updated, paymentCompletedNote)
		}
	} else {
		// The order moved on (usually cancelled) before the payment settled.
		s.logger(ctx, "payment.completed.order_not_pending", map[string]any{
			"orderId": updated.ID,
			"status":  string(updated.Status),
		})
	}

	return PaymentReconciliation{
		Order:         updated,
		State:         status.State,
		PaymentStatus: updated.Payment.Status,
		Changed:       true,
	}, nil
}

func (s *paymentService) markFailed(ctx context.Context, order Order, status payments.StatusResult) (PaymentReconciliation, error) {
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *Order) error {
		if o.Payment.Status != domain.PaymentStatusPending {
			return errPaymentUnchanged
		}
		now := s.now()
		o.Payment.Status = domain.PaymentStatusFailed
		o.Payment.UpdatedAt = &now
		o.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errPaymentUnchanged) {
		return s.unchanged(ctx, order, status.State)
	}
	if err != nil {
		return PaymentReconciliation{}, mapRepositoryError(err)
	}

	s.logger(ctx, "payment.failed", map[string]any{
		"orderId": updated.ID,
		"code":    status.Code,
	})
	return PaymentReconciliation{
		Order:         updated,
		State:         status.State,
		PaymentStatus: updated.Payment.Status,
		Changed:       true,
	}, nil
}

func (s *paymentService) unchanged(ctx context.Context, order Order, state string) (PaymentReconciliation, error) {
	current, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		return PaymentReconciliation{}, mapRepositoryError(err)
	}
	return PaymentReconciliation{
		Order:         current,
		State:         state,
		PaymentStatus: current.Payment.Status,
	}, nil
}

func (s *paymentService) publishEvent(ctx context.Context, event OrderEvent) {
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

// awaitingOnlinePayment reports whether a gateway payment may be started for order.
func awaitingOnlinePayment(order Order) bool {
	if order.Status != domain.OrderStatusPending || order.Payment.Method == domain.PaymentMethodCOD {
		return false
	}
	return order.Payment.Status == domain.PaymentStatusPending || order.Payment.Status == domain.PaymentStatusFailed
}
