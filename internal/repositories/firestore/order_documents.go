package firestore

import (
	"time"

	domain "github.com/drbackfit/storefront/internal/domain"
)

type orderDocument struct {
	OrderNumber       string                  `firestore:"orderNumber"`
	UserID            string                  `firestore:"userId"`
	Customer          customerDocument        `firestore:"customer"`
	ShippingAddress   addressDocument         `firestore:"shippingAddress"`
	Items             []orderItemDocument     `firestore:"items"`
	Subtotal          float64                 `firestore:"subtotal"`
	Tax               float64                 `firestore:"tax"`
	Shipping          float64                 `firestore:"shipping"`
	Total             float64                 `firestore:"total"`
	Payment           paymentDocument         `firestore:"payment"`
	Status            string                  `firestore:"status"`
	StatusHistory     []statusHistoryDocument `firestore:"statusHistory"`
	CreatedAt         time.Time               `firestore:"createdAt"`
	UpdatedAt         time.Time               `firestore:"updatedAt"`
	Notes             string                  `firestore:"notes,omitempty"`
	TrackingNumber    string                  `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time              `firestore:"estimatedDelivery,omitempty"`
}

type customerDocument struct {
	Email     string `firestore:"email"`
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Phone     string `firestore:"phone"`
}

type addressDocument struct {
	Address string `firestore:"address"`
	City    string `firestore:"city"`
	State   string `firestore:"state"`
	ZipCode string `firestore:"zipCode"`
	Country string `firestore:"country"`
}

type orderItemDocument struct {
	ProductID string  `firestore:"productId"`
	Title     string  `firestore:"title"`
	Slug      string  `firestore:"slug"`
	Image     string  `firestore:"image"`
	Price     float64 `firestore:"price"`
	Quantity  int     `firestore:"quantity"`
	Subtotal  float64 `firestore:"subtotal"`
}

type paymentDocument struct {
	Method          string     `firestore:"method"`
	Status          string     `firestore:"status"`
	TransactionID   string     `firestore:"transactionId,omitempty"`
	LastFourDigits  string     `firestore:"lastFourDigits,omitempty"`
	Provider        string     `firestore:"provider,omitempty"`
	MerchantOrderID string     `firestore:"merchantOrderId,omitempty"`
	GatewayOrderID  string     `firestore:"gatewayOrderId,omitempty"`
	UpdatedAt       *time.Time `firestore:"updatedAt,omitempty"`
}

type statusHistoryDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Note      string    `firestore:"note,omitempty"`
	UpdatedBy string    `firestore:"updatedBy,omitempty"`
}

type orderSummaryDocument struct {
	OrderNumber    string    `firestore:"orderNumber"`
	Status         string    `firestore:"status"`
	Total          float64   `firestore:"total"`
	ItemCount      int       `firestore:"itemCount"`
	FirstItemTitle string    `firestore:"firstItemTitle"`
	FirstItemImage string    `firestore:"firstItemImage,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Customer: customerDocument{
			Email:     order.Customer.Email,
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
			Phone:     order.Customer.Phone,
		},
		ShippingAddress: addressDocument{
			Address: order.ShippingAddress.Address,
			City:    order.ShippingAddress.City,
			State:   order.ShippingAddress.State,
			ZipCode: order.ShippingAddress.ZipCode,
			Country: order.ShippingAddress.Country,
		},
		Subtotal: order.Subtotal,
		Tax:      order.Tax,
		Shipping: order.Shipping,
		Total:    order.Total,
		Payment: paymentDocument{
			Method:          string(order.Payment.Method),
			Status:          string(order.Payment.Status),
			TransactionID:   order.Payment.TransactionID,
			LastFourDigits:  order.Payment.LastFourDigits,
			Provider:        order.Payment.Provider,
			MerchantOrderID: order.Payment.MerchantOrderID,
			GatewayOrderID:  order.Payment.GatewayOrderID,
			UpdatedAt:       order.Payment.UpdatedAt,
		},
		Status:            string(order.Status),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		Notes:             order.Notes,
		TrackingNumber:    order.TrackingNumber,
		EstimatedDelivery: order.EstimatedDelivery,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	for _, entry := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusHistoryDocument{
			Status:    string(entry.Status),
			Timestamp: entry.Timestamp.UTC(),
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}
	return doc
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		Customer: domain.CustomerInfo{
			Email:     doc.Customer.Email,
			FirstName: doc.Customer.FirstName,
			LastName:  doc.Customer.LastName,
			Phone:     doc.Customer.Phone,
		},
		ShippingAddress: domain.Address{
			Address: doc.ShippingAddress.Address,
			City:    doc.ShippingAddress.City,
			State:   doc.ShippingAddress.State,
			ZipCode: doc.ShippingAddress.ZipCode,
			Country: doc.ShippingAddress.Country,
		},
		Subtotal: doc.Subtotal,
		Tax:      doc.Tax,
		Shipping: doc.Shipping,
		Total:    doc.Total,
		Payment: domain.PaymentInfo{
			Method:          domain.PaymentMethod(doc.Payment.Method),
			Status:          domain.PaymentStatus(doc.Payment.Status),
			TransactionID:   doc.Payment.TransactionID,
			LastFourDigits:  doc.Payment.LastFourDigits,
			Provider:        doc.Payment.Provider,
			MerchantOrderID: doc.Payment.MerchantOrderID,
			GatewayOrderID:  doc.Payment.GatewayOrderID,
			UpdatedAt:       doc.Payment.UpdatedAt,
		},
		Status:            domain.OrderStatus(doc.Status),
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
		Notes:             doc.Notes,
		TrackingNumber:    doc.TrackingNumber,
		EstimatedDelivery: doc.EstimatedDelivery,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	for _, entry := range doc.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp,
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}
	return order
}

func fromDomainSummary(summary domain.OrderSummary) orderSummaryDocument {
	return orderSummaryDocument{
		OrderNumber:    summary.OrderNumber,
		Status:         string(summary.Status),
		Total:          summary.Total,
		ItemCount:      summary.ItemCount,
		FirstItemTitle: summary.FirstItemTitle,
		FirstItemImage: summary.FirstItemImage,
		CreatedAt:      summary.CreatedAt.UTC(),
		UpdatedAt:      summary.UpdatedAt.UTC(),
	}
}

func toDomainSummary(orderID string, doc orderSummaryDocument) domain.OrderSummary {
	return domain.OrderSummary{
		OrderID:        orderID,
		OrderNumber:    doc.OrderNumber,
		Status:         domain.OrderStatus(doc.Status),
		Total:          doc.Total,
		ItemCount:      doc.ItemCount,
		FirstItemTitle: doc.FirstItemTitle,
		FirstItemImage: doc.FirstItemImage,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}
