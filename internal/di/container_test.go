package di

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/notifications"
	"github.com/drbackfit/storefront/internal/platform/config"
	"github.com/drbackfit/storefront/internal/repositories"
	"github.com/drbackfit/storefront/internal/repositories/memory"
	"github.com/drbackfit/storefront/internal/services"
)

func testConfig() config.Config {
	return config.Config{
		Orders: config.OrdersConfig{
			TaxRate:   0.08,
			Currency:  "INR",
			CounterID: "orders",
			Location:  time.UTC,
		},
		Mail: config.MailConfig{StoreName: "DrBackfit"},
	}
}

func checkoutCommand(userID string) services.CreateOrderCommand {
	return services.CreateOrderCommand{
		UserID: userID,
		Customer: services.CustomerInput{
			Email:     "asha@example.com",
			FirstName: "Asha",
			LastName:  "Rao",
			Phone:     "+91 98765 43210",
		},
		ShippingAddress: services.AddressInput{
			Address: "12 MG Road",
			City:    "Bengaluru",
			State:   "KA",
			ZipCode: "560001",
			Country: "India",
		},
		Items: []services.OrderItemInput{
			{ProductID: "bed-1", Title: "Orthopaedic Bed", Slug: "ortho-bed", Price: 100, Quantity: 2},
		},
		PaymentMethod: domain.PaymentMethodCard,
	}
}

// brokenMailRegistry serves the memory repositories with a mail queue that always fails.
type brokenMailRegistry struct {
	*memory.Registry
	queue *brokenMailQueue
}

func (r brokenMailRegistry) MailQueue() repositories.MailQueue { return r.queue }

type brokenMailQueue struct {
	attempts []string
}

func (q *brokenMailQueue) Enqueue(_ context.Context, mail repositories.Mail) (string, error) {
	q.attempts = append(q.attempts, mail.Subject)
	return "", errors.New("firestore unavailable")
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil, Dependencies{}); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestNewContainerWiresOrderFlow(t *testing.T) {
	reg := memory.NewRegistry()
	now := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	container, err := NewContainer(context.Background(), testConfig(), reg, Dependencies{
		Clock:      func() time.Time { return now },
		Dispatcher: notifications.InlineDispatcher,
		Build:      services.BuildInfo{Version: "test", StartedAt: now},
	})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	ctx := context.Background()
	order, err := container.Services.Orders.CreateOrder(ctx, checkoutCommand("user-1"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.OrderNumber != "ORD-20260115-001" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.Total != 216 {
		t.Fatalf("expected total 216, got %v", order.Total)
	}

	mail := reg.Mail().Messages()
	if len(mail) != 1 || mail[0].To != "asha@example.com" {
		t.Fatalf("expected confirmation email, got %#v", mail)
	}
	if !strings.Contains(mail[0].Subject, order.OrderNumber) {
		t.Fatalf("expected subject to carry order number, got %q", mail[0].Subject)
	}

	_, err = container.Services.Payments.InitiateOrderPayment(ctx, services.InitiateOrderPaymentCommand{
		OrderID: order.ID,
		UserID:  "user-1",
	})
	if !errors.Is(err, services.ErrPaymentUnavailable) {
		t.Fatalf("expected payment unavailable without gateway, got %v", err)
	}

	report, err := container.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "test" {
		t.Fatalf("unexpected health report %#v", report)
	}
	if _, ok := report.Checks["storage"]; !ok {
		t.Fatalf("expected storage check in %#v", report.Checks)
	}

	if err := container.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewContainerMergesHealthChecks(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), memory.NewRegistry(), Dependencies{
		HealthChecks: []repositories.DependencyCheck{{
			Name:  "redis",
			Check: func(context.Context) error { return errors.New("connection refused") },
		}},
	})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	report, err := container.Services.System.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
	if report.Checks["redis"].Detail != "connection refused" {
		t.Fatalf("unexpected redis check %#v", report.Checks["redis"])
	}
}

func TestNewContainerOrderFlowSurvivesMailFailure(t *testing.T) {
	queue := &brokenMailQueue{}
	reg := brokenMailRegistry{Registry: memory.NewRegistry(), queue: queue}
	now := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	container, err := NewContainer(context.Background(), testConfig(), reg, Dependencies{
		Clock:      func() time.Time { return now },
		Dispatcher: notifications.InlineDispatcher,
	})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	ctx := context.Background()
	orders := container.Services.Orders

	cancelled, err := orders.CreateOrder(ctx, checkoutCommand("user-1"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	cancelled, err = orders.CancelOrder(ctx, services.CancelOrderCommand{OrderID: cancelled.ID, UserID: "user-1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", cancelled.Status)
	}

	confirmed, err := orders.CreateOrder(ctx, checkoutCommand("user-1"))
	if err != nil {
		t.Fatalf("create second order: %v", err)
	}
	confirmed, err = orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:   confirmed.ID,
		Status:    domain.OrderStatusConfirmed,
		UpdatedBy: "staff-1",
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.OrderNumber != "ORD-20260115-002" {
		t.Fatalf("unexpected order after status update: %s %s", confirmed.OrderNumber, confirmed.Status)
	}

	if len(queue.attempts) != 4 {
		t.Fatalf("expected every email to be attempted, got %v", queue.attempts)
	}
	stored, err := orders.GetOrder(ctx, services.GetOrderQuery{OrderID: cancelled.ID, UserID: "user-1"})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancellation persisted, got %s", stored.Status)
	}
}
