package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drbackfit/storefront/internal/platform/httpx"
	"github.com/drbackfit/storefront/internal/services"
)

const defaultSweepAge = 15 * time.Minute

// InternalPaymentHandlers serves scheduler-invoked payment maintenance endpoints.
// Authentication is applied by the router's internal middleware.
type InternalPaymentHandlers struct {
	payments services.PaymentService
	sweepAge time.Duration
}

// NewInternalPaymentHandlers constructs InternalPaymentHandlers. sweepAge is the default minimum
// age of a pending payment before the sweep polls it.
func NewInternalPaymentHandlers(payments services.PaymentService, sweepAge time.Duration) *InternalPaymentHandlers {
	if sweepAge <= 0 {
		sweepAge = defaultSweepAge
	}
	return &InternalPaymentHandlers{payments: payments, sweepAge: sweepAge}
}

// Routes registers the /internal endpoints.
func (h *InternalPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments:sweep", h.sweep)
}

func (h *InternalPaymentHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}

	olderThan := h.sweepAge
	if raw := strings.TrimSpace(r.URL.Query().Get("olderThan")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "olderThan must be a non-negative duration such as 15m", http.StatusBadRequest))
			return
		}
		olderThan = parsed
	}

	result, err := h.payments.SweepPendingPayments(ctx, olderThan)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success":   true,
		"checked":   result.Checked,
		"completed": result.Completed,
		"failed":    result.Failed,
		"errors":    result.Errors,
	})
}
