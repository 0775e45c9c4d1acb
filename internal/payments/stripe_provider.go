package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/drbackfit/storefront/internal/domain"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	sessions       stripeSessionAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider serves non-INR currencies through Stripe Checkout. The Checkout Session id is
// the gateway order id.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  Logger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions:       sc.CheckoutSessions,
			paymentMethods: sc.PaymentMethods,
		}
	}
	if clients.sessions == nil || clients.paymentMethods == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// InitiatePayment creates a Checkout Session for the order total.
func (p *StripeProvider) InitiatePayment(ctx context.Context, req InitiateRequest) InitiateResult {
	if p == nil {
		return failedInitiate(CodeInvalidRequest, "stripe: provider is nil")
	}
	merchantOrderID := strings.TrimSpace(req.MerchantOrderID)
	if merchantOrderID == "" {
		return failedInitiate(CodeInvalidRequest, "merchant order id is required")
	}
	amount := domain.MinorUnits(req.Amount)
	if amount <= 0 {
		return failedInitiate(CodeInvalidRequest, "amount must be positive")
	}

	metadata := map[string]string{"merchantOrderId": merchantOrderID}
	for k, v := range req.UDF {
		metadata[k] = v
	}
	name := req.Message
	if name == "" {
		name = "Order " + merchantOrderID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.RedirectURL),
		CancelURL:         stripe.String(req.RedirectURL),
		ClientReferenceID: stripe.String(merchantOrderID),
		Metadata:          metadata,
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(req.Currency, "usd"))),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + merchantOrderID)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		code, msg := stripeFailure(err)
		p.logger(ctx, "payments.stripe.session.failed", map[string]any{
			"merchantOrderId": merchantOrderID,
			"code":            code,
		})
		return failedInitiate(code, msg)
	}
	if session == nil || session.ID == "" || session.URL == "" {
		return failedInitiate(CodeInvalidResponse, "stripe: checkout session missing url")
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"merchantOrderId": merchantOrderID,
		"sessionId":       session.ID,
	})

	expiresAt := p.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return InitiateResult{
		Success:     true,
		Provider:    ProviderStripe,
		RedirectURL: session.URL,
		OrderID:     session.ID,
		State:       StatePending,
		ExpiresAt:   expiresAt,
	}
}

// LookupPayment retrieves the Checkout Session and maps it onto gateway states.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) StatusResult {
	if p == nil {
		return failedStatus(CodeInvalidRequest, "stripe: provider is nil")
	}
	sessionID := strings.TrimSpace(req.GatewayOrderID)
	if sessionID == "" {
		return failedStatus(CodeInvalidRequest, "checkout session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.api.sessions.Get(sessionID, params)
	if err != nil {
		code, msg := stripeFailure(err)
		return failedStatus(code, msg)
	}
	if session == nil {
		return failedStatus(CodeInvalidResponse, "stripe: empty checkout session")
	}

	result := StatusResult{
		Provider: ProviderStripe,
		State:    stripeSessionState(session),
		Amount:   session.AmountTotal,
	}
	result.Success = result.State == StateCompleted
	if intent := session.PaymentIntent; intent != nil {
		result.TransactionID = intent.ID
		if intent.PaymentMethod != nil && intent.PaymentMethod.ID != "" {
			mode, last4 := p.paymentMethodDetails(ctx, intent.PaymentMethod.ID)
			result.PaymentMode = mode
			result.LastFourDigits = last4
		}
	}
	if !result.Success {
		result.Code = result.State
	}
	return result
}

// paymentMethodDetails reads the card brand and last four digits. Lookup failures leave them blank.
func (p *StripeProvider) paymentMethodDetails(ctx context.Context, id string) (string, string) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	pm, err := p.api.paymentMethods.Get(id, params)
	if err != nil || pm == nil {
		if err != nil {
			p.logger(ctx, "payments.stripe.payment_method.lookup_failed", map[string]any{
				"paymentMethod": id,
				"error":         err.Error(),
			})
		}
		return "", ""
	}
	mode := strings.ToUpper(string(pm.Type))
	if pm.Card != nil {
		return mode, strings.TrimSpace(pm.Card.Last4)
	}
	return mode, ""
}

func stripeSessionState(session *stripe.CheckoutSession) string {
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return StateCompleted
	case session.Status == stripe.CheckoutSessionStatusExpired:
		return StateFailed
	case session.PaymentIntent != nil && session.PaymentIntent.Status == stripe.PaymentIntentStatusCanceled:
		return StateFailed
	default:
		return StatePending
	}
}

func stripeFailure(err error) (string, string) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := string(stripeErr.Code)
		if code == "" {
			code = string(stripeErr.Type)
		}
		return code, stripeErr.Msg
	}
	return CodeNetworkError, err.Error()
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
