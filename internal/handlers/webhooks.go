package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drbackfit/storefront/internal/payments"
	"github.com/drbackfit/storefront/internal/platform/httpx"
	"github.com/drbackfit/storefront/internal/platform/requestctx"
	"github.com/drbackfit/storefront/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives payment gateway server-to-server callbacks.
type WebhookHandlers struct {
	payments services.PaymentService
	username string
	password string
	limiter  rateLimiter
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookRateLimit caps callbacks per source address.
func WithWebhookRateLimit(perSecond float64, burst int, clock func() time.Time) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = newKeyedRateLimiter(perSecond, burst, clock)
	}
}

// NewWebhookHandlers constructs WebhookHandlers. username and password are the callback
// credentials configured in the PhonePe dashboard.
func NewWebhookHandlers(svc services.PaymentService, username, password string, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		payments: svc,
		username: username,
		password: password,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitMiddleware(h.limiter)).Post("/phonepe", h.phonePeCallback)
}

func (h *WebhookHandlers) phonePeCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}

	if !payments.VerifyCallback(r.Header.Get("Authorization"), h.username, h.password) {
		logger.Warn("phonepe callback rejected", zap.Error(payments.ErrInvalidCallbackAuth))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "callback authorization invalid", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	callback, err := payments.ParseCallback(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "callback payload invalid", http.StatusBadRequest))
		return
	}

	outcome, err := h.payments.HandleCallback(ctx, services.PaymentCallbackCommand{
		MerchantOrderID: callback.MerchantOrderID,
		Event:           callback.Event,
	})
	if err != nil {
		logger.Warn("phonepe callback not applied",
			zap.String("merchantOrderId", callback.MerchantOrderID),
			zap.String("event", callback.Event),
			zap.Error(err),
		)
		writeOrderError(ctx, w, err)
		return
	}

	logger.Info("phonepe callback applied",
		zap.String("merchantOrderId", callback.MerchantOrderID),
		zap.String("orderId", outcome.Order.ID),
		zap.String("state", outcome.State),
		zap.Bool("changed", outcome.Changed),
	)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success":       true,
		"state":         outcome.State,
		"paymentStatus": outcome.PaymentStatus,
		"changed":       outcome.Changed,
	})
}
