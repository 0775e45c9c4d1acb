package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/platform/auth"
	"github.com/drbackfit/storefront/internal/platform/httpx"
	"github.com/drbackfit/storefront/internal/platform/pagination"
	"github.com/drbackfit/storefront/internal/services"
)

const (
	maxCreateOrderBodySize = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
	maxPaymentBodySize     = 4 * 1024
)

type createOrderRequest struct {
	Customer struct {
		Email     string `json:"email"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	ShippingAddress struct {
		Address string `json:"address"`
		City    string `json:"city"`
		State   string `json:"state"`
		ZipCode string `json:"zipCode"`
		Country string `json:"country"`
	} `json:"shippingAddress"`
	Items []struct {
		ProductID string  `json:"productId"`
		Title     string  `json:"title"`
		Slug      string  `json:"slug"`
		Image     string  `json:"image"`
		Price     float64 `json:"price"`
		Quantity  int     `json:"quantity"`
	} `json:"items"`
	PaymentMethod string `json:"paymentMethod"`
	Notes         string `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type initiatePaymentRequest struct {
	RedirectURL string `json:"redirectUrl"`
}

type paymentSessionResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId"`
	Provider       string `json:"provider"`
	GatewayOrderID string `json:"gatewayOrderId"`
	RedirectURL    string `json:"redirectUrl"`
	State          string `json:"state"`
}

type paymentStatusResponse struct {
	Success       bool                 `json:"success"`
	State         string               `json:"state"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	Changed       bool                 `json:"changed"`
	Order         orderPayload         `json:"order"`
}

// OrderHandlers exposes the customer order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation and payment initiation against client retries.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance. payments may be nil when no gateway is configured.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	guarded := r
	if h.idempotency != nil {
		guarded = r.With(h.idempotency)
	}
	guarded.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	guarded.Post("/{orderID}/payments", h.initiatePayment)
	r.Get("/{orderID}/payments/status", h.paymentStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxCreateOrderBodySize, &req, false) {
		return
	}

	cmd := services.CreateOrderCommand{
		UserID: identity.UID,
		Customer: services.CustomerInput{
			Email:     req.Customer.Email,
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Phone:     req.Customer.Phone,
		},
		ShippingAddress: services.AddressInput{
			Address: req.ShippingAddress.Address,
			City:    req.ShippingAddress.City,
			State:   req.ShippingAddress.State,
			ZipCode: req.ShippingAddress.ZipCode,
			Country: req.ShippingAddress.Country,
		},
		Items:         make([]services.OrderItemInput, 0, len(req.Items)),
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
	}
	if strings.TrimSpace(cmd.Customer.Email) == "" {
		cmd.Customer.Email = identity.Email
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID: item.ProductID,
			Title:     item.Title,
			Slug:      item.Slug,
			Image:     item.Image,
			Price:     item.Price,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	params, err := pagination.Parse(r.URL.Query(), pagination.Options{})
	if err != nil {
		writePaginationError(w, r, err)
		return
	}

	page, err := h.orders.ListUserOrders(ctx, identity.UID, domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := orderSummaryListResponse{
		Success:       true,
		Orders:        make([]orderSummaryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, summary := range page.Items {
		response.Orders = append(response.Orders, buildOrderSummaryPayload(summary))
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{OrderID: orderID, UserID: identity.UID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxOrderCancelBodySize, &req, true) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		UserID:  identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req initiatePaymentRequest
	if !decodeJSONBody(w, r, maxPaymentBodySize, &req, true) {
		return
	}

	session, err := h.payments.InitiateOrderPayment(ctx, services.InitiateOrderPaymentCommand{
		OrderID:     orderID,
		UserID:      identity.UID,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentSessionResponse{
		Success:        true,
		OrderID:        session.OrderID,
		Provider:       session.Provider,
		GatewayOrderID: session.GatewayOrderID,
		RedirectURL:    session.RedirectURL,
		State:          session.State,
	})
}

func (h *OrderHandlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	outcome, err := h.payments.ReconcileOrderPayment(ctx, services.ReconcileOrderPaymentCommand{
		OrderID: orderID,
		UserID:  identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentStatusResponse{
		Success:       true,
		State:         outcome.State,
		PaymentStatus: outcome.PaymentStatus,
		Changed:       outcome.Changed,
		Order:         buildOrderPayload(outcome.Order),
	})
}

func writePaginationError(w http.ResponseWriter, r *http.Request, err error) {
	message := "invalid pagination parameters"
	switch {
	case errors.Is(err, pagination.ErrInvalidPageSize):
		message = "pageSize must be a positive integer"
	case errors.Is(err, pagination.ErrInvalidPageToken):
		message = "pageToken is invalid"
	case errors.Is(err, pagination.ErrInvalidOrder):
		message = "order must be asc or desc"
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}
