package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeStripeSessions struct {
	created *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	return f.session, f.err
}

func (f *fakeStripeSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeStripePaymentMethods struct {
	method *stripe.PaymentMethod
	err    error
}

func (f *fakeStripePaymentMethods) Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error) {
	return f.method, f.err
}

func newStripeFixture(t *testing.T, sessions *fakeStripeSessions, methods *fakeStripePaymentMethods) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{sessions: sessions, paymentMethods: methods},
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func TestStripeInitiatePaymentCreatesSession(t *testing.T) {
	sessions := &fakeStripeSessions{session: &stripe.CheckoutSession{ID: "cs_123", URL: "https://checkout.stripe.com/c/cs_123", ExpiresAt: 1768500000}}
	provider := newStripeFixture(t, sessions, &fakeStripePaymentMethods{})

	result := provider.InitiatePayment(context.Background(), InitiateRequest{
		MerchantOrderID: "ord_1",
		Amount:          49.99,
		Currency:        "USD",
		RedirectURL:     "https://shop.example/orders/ord_1",
	})
	if !result.Success || result.OrderID != "cs_123" || result.State != StatePending {
		t.Fatalf("unexpected result %+v", result)
	}
	params := sessions.created
	if params == nil {
		t.Fatalf("expected session params")
	}
	if got := *params.LineItems[0].PriceData.UnitAmount; got != 4999 {
		t.Fatalf("expected 4999 cents, got %d", got)
	}
	if got := *params.LineItems[0].PriceData.Currency; got != "usd" {
		t.Fatalf("unexpected currency %q", got)
	}
	if got := *params.ClientReferenceID; got != "ord_1" {
		t.Fatalf("unexpected client reference %q", got)
	}
	if params.Metadata["merchantOrderId"] != "ord_1" {
		t.Fatalf("expected merchant order metadata")
	}
}

func TestStripeInitiatePaymentMapsErrors(t *testing.T) {
	sessions := &fakeStripeSessions{err: &stripe.Error{Code: stripe.ErrorCodeAmountTooSmall, Msg: "Amount must be at least 50 cents"}}
	provider := newStripeFixture(t, sessions, &fakeStripePaymentMethods{})

	result := provider.InitiatePayment(context.Background(), InitiateRequest{MerchantOrderID: "ord_1", Amount: 0.1, RedirectURL: "https://x"})
	if result.Success {
		t.Fatalf("expected failure")
	}
	if result.Code != string(stripe.ErrorCodeAmountTooSmall) || result.Message != "Amount must be at least 50 cents" {
		t.Fatalf("unexpected failure %+v", result)
	}
}

func TestStripeLookupPaymentPaid(t *testing.T) {
	sessions := &fakeStripeSessions{session: &stripe.CheckoutSession{
		ID:            "cs_123",
		AmountTotal:   4999,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		Status:        stripe.CheckoutSessionStatusComplete,
		PaymentIntent: &stripe.PaymentIntent{
			ID:            "pi_123",
			Status:        stripe.PaymentIntentStatusSucceeded,
			PaymentMethod: &stripe.PaymentMethod{ID: "pm_123"},
		},
	}}
	methods := &fakeStripePaymentMethods{method: &stripe.PaymentMethod{
		ID:   "pm_123",
		Type: stripe.PaymentMethodTypeCard,
		Card: &stripe.PaymentMethodCard{Last4: "4242"},
	}}
	provider := newStripeFixture(t, sessions, methods)

	result := provider.LookupPayment(context.Background(), LookupRequest{GatewayOrderID: "cs_123"})
	if !result.Success || result.State != StateCompleted {
		t.Fatalf("expected completed, got %+v", result)
	}
	if result.TransactionID != "pi_123" || result.LastFourDigits != "4242" || result.PaymentMode != "CARD" {
		t.Fatalf("unexpected details %+v", result)
	}
}

func TestStripeLookupPaymentStates(t *testing.T) {
	cases := []struct {
		name    string
		session *stripe.CheckoutSession
		state   string
	}{
		{name: "open", session: &stripe.CheckoutSession{ID: "cs", Status: stripe.CheckoutSessionStatusOpen, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid}, state: StatePending},
		{name: "expired", session: &stripe.CheckoutSession{ID: "cs", Status: stripe.CheckoutSessionStatusExpired, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid}, state: StateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := newStripeFixture(t, &fakeStripeSessions{session: tc.session}, &fakeStripePaymentMethods{})
			result := provider.LookupPayment(context.Background(), LookupRequest{GatewayOrderID: "cs"})
			if result.Success || result.State != tc.state {
				t.Fatalf("unexpected result %+v", result)
			}
		})
	}
}

func TestStripeLookupPaymentRequiresSessionID(t *testing.T) {
	provider := newStripeFixture(t, &fakeStripeSessions{}, &fakeStripePaymentMethods{})
	result := provider.LookupPayment(context.Background(), LookupRequest{MerchantOrderID: "ord_1"})
	if result.Success || result.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", result)
	}
}

func TestStripeLookupPaymentNetworkError(t *testing.T) {
	provider := newStripeFixture(t, &fakeStripeSessions{err: errors.New("dial tcp: timeout")}, &fakeStripePaymentMethods{})
	result := provider.LookupPayment(context.Background(), LookupRequest{GatewayOrderID: "cs"})
	if result.Success || result.Code != CodeNetworkError {
		t.Fatalf("expected network error, got %+v", result)
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
