package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Gateway states shared across providers. PhonePe reports these values verbatim; other
// providers map onto them.
const (
	StatePending   = "PENDING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// Failure codes produced locally when the gateway could not be consulted.
const (
	CodeAuthFailed      = "AUTH_FAILED"
	CodeNetworkError    = "NETWORK_ERROR"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInvalidRequest  = "INVALID_REQUEST"
)

const (
	ProviderPhonePe = "phonepe"
	ProviderStripe  = "stripe"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// Logger receives structured payment events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// InitiateRequest starts a hosted checkout. Amount is in major units (rupees).
type InitiateRequest struct {
	MerchantOrderID string
	Amount          float64
	Currency        string
	RedirectURL     string
	Message         string
	UDF             map[string]string
}

// InitiateResult is the outcome of InitiatePayment. Failures carry the gateway's own code and
// message untranslated.
type InitiateResult struct {
	Success     bool
	Provider    string
	RedirectURL string
	OrderID     string
	State       string
	ExpiresAt   time.Time
	Code        string
	Message     string
}

// LookupRequest identifies a payment at the gateway. Providers use whichever reference they key on.
type LookupRequest struct {
	MerchantOrderID string
	GatewayOrderID  string
}

// StatusResult is the outcome of a payment status check.
type StatusResult struct {
	Success        bool
	Provider       string
	State          string
	TransactionID  string
	PaymentMode    string
	LastFourDigits string
	Amount         int64
	Code           string
	Message        string
}

// Provider is implemented by every gateway adapter. Neither method returns an error: every
// failure is reported as a structured result.
type Provider interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) InitiateResult
	LookupPayment(ctx context.Context, req LookupRequest) StatusResult
}

func failedInitiate(code, message string) InitiateResult {
	return InitiateResult{Code: code, Message: message}
}

func failedStatus(code, message string) StatusResult {
	return StatusResult{Code: code, Message: message}
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers. PhonePe is the default when registered.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered[ProviderPhonePe]; ok {
		m.defaultProvider = ProviderPhonePe
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if providerKey, ok := m.currencyRoutes[currency]; ok && currency != "" {
		provider := strings.TrimSpace(strings.ToLower(providerKey))
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// InitiatePayment delegates to the resolved provider.
func (m *Manager) InitiatePayment(ctx context.Context, paymentCtx PaymentContext, req InitiateRequest) (InitiateResult, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return InitiateResult{}, err
	}
	result := provider.InitiatePayment(ctx, req)
	result.Provider = key
	return result, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (StatusResult, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return StatusResult{}, err
	}
	result := provider.LookupPayment(ctx, req)
	result.Provider = key
	return result, nil
}
