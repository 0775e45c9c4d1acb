package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drbackfit/storefront/internal/notifications"
	"github.com/drbackfit/storefront/internal/payments"
	"github.com/drbackfit/storefront/internal/platform/config"
	"github.com/drbackfit/storefront/internal/platform/observability"
	"github.com/drbackfit/storefront/internal/repositories"
	"github.com/drbackfit/storefront/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
	System   services.SystemService
}

// Dependencies carries the infrastructure built outside the container. Gateway and Events are
// optional; without a gateway the payment endpoints report unavailable.
type Dependencies struct {
	Gateway      *payments.Manager
	Events       services.OrderEventPublisher
	Logger       *zap.Logger
	Clock        func() time.Time
	Build        services.BuildInfo
	HealthChecks []repositories.DependencyCheck
	// Dispatcher runs email sends. Defaults to a fresh AsyncDispatcher.
	Dispatcher notifications.Dispatcher
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Notifier     *notifications.Notifier
}

// NewContainer constructs the runtime dependencies. Tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	notifier, err := buildNotifier(cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(ctx, cfg, reg, notifier, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Notifier:     notifier,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildNotifier(cfg config.Config, reg repositories.Registry, deps Dependencies) (*notifications.Notifier, error) {
	renderer, err := notifications.NewRenderer(notifications.Branding{
		StoreName:    cfg.Mail.StoreName,
		SupportEmail: cfg.Mail.SupportEmail,
		SiteURL:      cfg.Mail.SiteURL,
		Currency:     cfg.Orders.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("build email renderer: %w", err)
	}
	opts := []notifications.Option{notifications.WithLogger(deps.Logger.Named("mail"))}
	if deps.Dispatcher != nil {
		opts = append(opts, notifications.WithDispatcher(deps.Dispatcher))
	}
	notifier, err := notifications.NewNotifier(reg.MailQueue(), renderer, opts...)
	if err != nil {
		return nil, fmt.Errorf("build notifier: %w", err)
	}
	return notifier, nil
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, notifier *notifications.Notifier, deps Dependencies) (Services, error) {
	var svc Services

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      deps.Clock,
		Location:   cfg.Orders.Location,
		CounterID:  cfg.Orders.CounterID,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       reg.Orders(),
		OrderNumbers: counterSvc,
		Notifier:     notifier,
		Events:       deps.Events,
		Clock:        deps.Clock,
		Logger:       observability.NewEventLogger(deps.Logger.Named("orders")),
		TaxRate:      cfg.Orders.TaxRate,
		ShippingFlat: cfg.Orders.ShippingFlat,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentDeps := services.PaymentServiceDeps{
		Orders:      reg.Orders(),
		Notifier:    notifier,
		Events:      deps.Events,
		Clock:       deps.Clock,
		Logger:      observability.NewEventLogger(deps.Logger.Named("payments")),
		Currency:    cfg.Orders.Currency,
		RedirectURL: cfg.PhonePe.RedirectURL,
		AttemptTTL:  cfg.PhonePe.ExpireAfter,
	}
	if deps.Gateway != nil {
		paymentDeps.Gateway = deps.Gateway
	}
	paymentSvc, err := services.NewPaymentService(paymentDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	checks := append(reg.HealthChecks(), deps.HealthChecks...)
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            deps.Clock,
		Build:            deps.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
