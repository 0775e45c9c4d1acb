package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/platform/auth"
	"github.com/drbackfit/storefront/internal/platform/httpx"
	"github.com/drbackfit/storefront/internal/platform/pagination"
	"github.com/drbackfit/storefront/internal/services"
)

const (
	maxStatusUpdateBodySize = 8 * 1024
	estimatedDeliveryLayout = "2006-01-02"
)

type updateStatusRequest struct {
	Status            string `json:"status"`
	Note              string `json:"note"`
	TrackingNumber    string `json:"trackingNumber"`
	EstimatedDelivery string `json:"estimatedDelivery"`
}

// AdminOrderHandlers exposes back-office order management to staff and admins.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs AdminOrderHandlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders/{orderID}/transitions", h.transitions)
	r.Post("/orders/{orderID}:status", h.updateStatus)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}

	query := r.URL.Query()
	params, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		writePaginationError(w, r, err)
		return
	}

	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter "+raw, http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	sort := domain.SortDesc
	if params.Ascending {
		sort = domain.SortAsc
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersQuery{
		Statuses: statuses,
		Search:   strings.TrimSpace(query.Get("q")),
		Sort:     sort,
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := orderListResponse{
		Success:       true,
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		response.Orders = append(response.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{OrderID: orderID, AsAdmin: true})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) transitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	options, err := h.orders.AllowedTransitions(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := transitionsResponse{
		Success: true,
		OrderID: options.OrderID,
		Current: buildStatusOption(options.Current),
		Next:    make([]statusOptionPayload, 0, len(options.Next)),
	}
	for _, next := range options.Next {
		response.Next = append(response.Next, buildStatusOption(next))
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
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

	var req updateStatusRequest
	if !decodeJSONBody(w, r, maxStatusUpdateBodySize, &req, false) {
		return
	}
	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	cmd := services.UpdateOrderStatusCommand{
		OrderID:        orderID,
		Status:         status,
		Note:           req.Note,
		UpdatedBy:      identity.Actor(),
		TrackingNumber: req.TrackingNumber,
	}
	if raw := strings.TrimSpace(req.EstimatedDelivery); raw != "" {
		eta, err := parseDeliveryDate(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimatedDelivery must be YYYY-MM-DD or RFC3339", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &eta
	}

	order, err := h.orders.UpdateOrderStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

// parseFilterValues splits repeated and comma separated query values.
func parseFilterValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseDeliveryDate(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Parse(estimatedDeliveryLayout, raw)
}
