package handlers

import (
	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/services"
)

type orderResponse struct {
	Success bool         `json:"success"`
	Order   orderPayload `json:"order"`
}

type orderListResponse struct {
	Success       bool           `json:"success"`
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderSummaryListResponse struct {
	Success       bool                  `json:"success"`
	Orders        []orderSummaryPayload `json:"orders"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

type orderPayload struct {
	ID                string               `json:"id"`
	OrderNumber       string               `json:"orderNumber"`
	UserID            string               `json:"userId"`
	Customer          customerPayload      `json:"customer"`
	ShippingAddress   addressPayload       `json:"shippingAddress"`
	Items             []orderItemPayload   `json:"items"`
	Subtotal          float64              `json:"subtotal"`
	Tax               float64              `json:"tax"`
	Shipping          float64              `json:"shipping"`
	Total             float64              `json:"total"`
	Payment           paymentPayload       `json:"payment"`
	Status            domain.OrderStatus   `json:"status"`
	StatusInfo        statusMetaPayload    `json:"statusInfo"`
	StatusHistory     []statusHistoryEntry `json:"statusHistory"`
	CanCancel         bool                 `json:"canCancel"`
	Notes             string               `json:"notes,omitempty"`
	TrackingNumber    string               `json:"trackingNumber,omitempty"`
	EstimatedDelivery string               `json:"estimatedDelivery,omitempty"`
	CreatedAt         string               `json:"createdAt"`
	UpdatedAt         string               `json:"updatedAt"`
}

type customerPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type addressPayload struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

type orderItemPayload struct {
	ProductID string  `json:"productId"`
	Title     string  `json:"title"`
	Slug      string  `json:"slug,omitempty"`
	Image     string  `json:"image,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
}

type paymentPayload struct {
	Method         domain.PaymentMethod `json:"method"`
	Status         domain.PaymentStatus `json:"status"`
	TransactionID  string               `json:"transactionId,omitempty"`
	LastFourDigits string               `json:"lastFourDigits,omitempty"`
	Provider       string               `json:"provider,omitempty"`
	UpdatedAt      string               `json:"updatedAt,omitempty"`
}

type statusHistoryEntry struct {
	Status    domain.OrderStatus `json:"status"`
	Timestamp string             `json:"timestamp"`
	Note      string             `json:"note,omitempty"`
	UpdatedBy string             `json:"updatedBy,omitempty"`
}

type statusMetaPayload struct {
	Label       string `json:"label"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

type orderSummaryPayload struct {
	OrderID        string             `json:"orderId"`
	OrderNumber    string             `json:"orderNumber"`
	Status         domain.OrderStatus `json:"status"`
	StatusInfo     statusMetaPayload  `json:"statusInfo"`
	Total          float64            `json:"total"`
	ItemCount      int                `json:"itemCount"`
	FirstItemTitle string             `json:"firstItemTitle,omitempty"`
	FirstItemImage string             `json:"firstItemImage,omitempty"`
	CreatedAt      string             `json:"createdAt"`
	UpdatedAt      string             `json:"updatedAt"`
}

type statusOptionPayload struct {
	Status domain.OrderStatus `json:"status"`
	statusMetaPayload
}

type transitionsResponse struct {
	Success bool                  `json:"success"`
	OrderID string                `json:"orderId"`
	Current statusOptionPayload   `json:"current"`
	Next    []statusOptionPayload `json:"next"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Customer: customerPayload{
			Email:     order.Customer.Email,
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
			Phone:     order.Customer.Phone,
		},
		ShippingAddress: addressPayload{
			Address: order.ShippingAddress.Address,
			City:    order.ShippingAddress.City,
			State:   order.ShippingAddress.State,
			ZipCode: order.ShippingAddress.ZipCode,
			Country: order.ShippingAddress.Country,
		},
		Items:    make([]orderItemPayload, 0, len(order.Items)),
		Subtotal: order.Subtotal,
		Tax:      order.Tax,
		Shipping: order.Shipping,
		Total:    order.Total,
		Payment: paymentPayload{
			Method:         order.Payment.Method,
			Status:         order.Payment.Status,
			TransactionID:  order.Payment.TransactionID,
			LastFourDigits: order.Payment.LastFourDigits,
			Provider:       order.Payment.Provider,
		},
		Status:         order.Status,
		StatusInfo:     buildStatusMeta(order.Status),
		StatusHistory:  make([]statusHistoryEntry, 0, len(order.StatusHistory)),
		CanCancel:      domain.CanCancelOrder(order.Status),
		Notes:          order.Notes,
		TrackingNumber: order.TrackingNumber,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
	if order.Payment.UpdatedAt != nil {
		payload.Payment.UpdatedAt = formatTime(*order.Payment.UpdatedAt)
	}
	if order.EstimatedDelivery != nil {
		payload.EstimatedDelivery = formatTime(*order.EstimatedDelivery)
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Title:     item.Title,
			Slug:      item.Slug,
			Image:     item.Image,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		})
	}
	for _, entry := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusHistoryEntry{
			Status:    entry.Status,
			Timestamp: formatTime(entry.Timestamp),
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}
	return payload
}

func buildOrderSummaryPayload(summary domain.OrderSummary) orderSummaryPayload {
	return orderSummaryPayload{
		OrderID:        summary.OrderID,
		OrderNumber:    summary.OrderNumber,
		Status:         summary.Status,
		StatusInfo:     buildStatusMeta(summary.Status),
		Total:          summary.Total,
		ItemCount:      summary.ItemCount,
		FirstItemTitle: summary.FirstItemTitle,
		FirstItemImage: summary.FirstItemImage,
		CreatedAt:      formatTime(summary.CreatedAt),
		UpdatedAt:      formatTime(summary.UpdatedAt),
	}
}

func buildStatusMeta(status domain.OrderStatus) statusMetaPayload {
	meta := domain.StatusInfo(status)
	return statusMetaPayload{
		Label:       meta.Label,
		Color:       meta.Color,
		Description: meta.Description,
	}
}

func buildStatusOption(option services.StatusOption) statusOptionPayload {
	return statusOptionPayload{
		Status: option.Status,
		statusMetaPayload: statusMetaPayload{
			Label:       option.Meta.Label,
			Color:       option.Meta.Color,
			Description: option.Meta.Description,
		},
	}
}
