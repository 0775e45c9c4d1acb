package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type phonePeStub struct {
	tokenCalls  atomic.Int32
	payCalls    atomic.Int32
	expiresAt   int64
	payStatus   int
	payBody     string
	statusBody  string
	statusCode  int
	mu          sync.Mutex
	lastPay     map[string]any
	lastAuth    string
	lastForm    string
	lastPath    string
	rejectFirst atomic.Bool
}

func (s *phonePeStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.lastForm = string(raw)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", s.tokenCalls.Load()),
			"token_type":   "O-Bearer",
			"expires_at":   s.expiresAt,
		})
	})
	mux.HandleFunc("/checkout/v2/pay", func(w http.ResponseWriter, r *http.Request) {
		s.payCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.lastPay = body
		s.lastAuth = r.Header.Get("Authorization")
		s.mu.Unlock()
		if s.rejectFirst.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"token expired"}`))
			return
		}
		status := s.payStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(s.payBody))
	})
	mux.HandleFunc("/checkout/v2/order/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.lastPath = r.URL.Path
		s.lastAuth = r.Header.Get("Authorization")
		s.mu.Unlock()
		status := s.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(s.statusBody))
	})
	return mux
}

func newPhonePeFixture(t *testing.T, stub *phonePeStub) (*PhonePeProvider, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	if stub.expiresAt == 0 {
		stub.expiresAt = clock.Now().Add(time.Hour).Unix()
	}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	provider, err := NewPhonePeProvider(PhonePeConfig{
		ClientID:      "client",
		ClientSecret:  "secret",
		ClientVersion: "1",
		Environment:   PhonePeSandbox,
		AuthBaseURL:   srv.URL,
		PGBaseURL:     srv.URL,
		ExpireAfter:   20 * time.Minute,
		HTTPClient:    srv.Client(),
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider, clock
}

func TestPhonePeInitiatePaymentSuccess(t *testing.T) {
	stub := &phonePeStub{
		payBody: `{"orderId":"OMO2601151000","state":"PENDING","expireAt":1768472400000,"redirectUrl":"https://mercury.phonepe.com/transact/abc"}`,
	}
	provider, _ := newPhonePeFixture(t, stub)

	result := provider.InitiatePayment(context.Background(), InitiateRequest{
		MerchantOrderID: "ord_123",
		Amount:          1234.565,
		RedirectURL:     "https://shop.example/orders/ord_123",
		Message:         "Order ORD-20260115-001",
		UDF:             map[string]string{"udf1": "ORD-20260115-001"},
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.OrderID != "OMO2601151000" || result.RedirectURL != "https://mercury.phonepe.com/transact/abc" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry to be parsed")
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.lastAuth != "O-Bearer tok-1" {
		t.Fatalf("unexpected auth header %q", stub.lastAuth)
	}
	if got := stub.lastPay["amount"]; got != float64(123457) {
		t.Fatalf("expected amount in paise 123457, got %v", got)
	}
	if got := stub.lastPay["merchantOrderId"]; got != "ord_123" {
		t.Fatalf("unexpected merchantOrderId %v", got)
	}
	if got := stub.lastPay["expireAfter"]; got != float64(1200) {
		t.Fatalf("unexpected expireAfter %v", got)
	}
	flow, _ := stub.lastPay["paymentFlow"].(map[string]any)
	if flow["type"] != "PG_CHECKOUT" {
		t.Fatalf("unexpected flow %v", flow)
	}
	urls, _ := flow["merchantUrls"].(map[string]any)
	if urls["redirectUrl"] != "https://shop.example/orders/ord_123" {
		t.Fatalf("unexpected merchant urls %v", urls)
	}
	for _, field := range []string{"client_id=client", "client_secret=secret", "client_version=1", "grant_type=client_credentials"} {
		if !strings.Contains(stub.lastForm, field) {
			t.Fatalf("token form missing %s: %s", field, stub.lastForm)
		}
	}
}

func TestPhonePeInitiateRequiresOrderIDAndRedirect(t *testing.T) {
	stub := &phonePeStub{payBody: `{"orderId":"OMO1","state":"PENDING"}`}
	provider, _ := newPhonePeFixture(t, stub)

	result := provider.InitiatePayment(context.Background(), InitiateRequest{
		MerchantOrderID: "ord_1",
		Amount:          10,
		RedirectURL:     "https://shop.example/return",
	})
	if result.Success {
		t.Fatalf("expected failure when redirectUrl missing")
	}
}

func TestPhonePeInitiateSurfacesGatewayError(t *testing.T) {
	stub := &phonePeStub{
		payStatus: http.StatusBadRequest,
		payBody:   `{"code":"BAD_REQUEST","message":"Invalid amount"}`,
	}
	provider, _ := newPhonePeFixture(t, stub)

	result := provider.InitiatePayment(context.Background(), InitiateRequest{
		MerchantOrderID: "ord_1",
		Amount:          10,
		RedirectURL:     "https://shop.example/return",
	})
	if result.Success {
		t.Fatalf("expected failure")
	}
	if result.Code != "BAD_REQUEST" || result.Message != "Invalid amount" {
		t.Fatalf("expected untranslated gateway error, got %+v", result)
	}
}

func TestPhonePeInitiateRejectsInvalidInput(t *testing.T) {
	stub := &phonePeStub{}
	provider, _ := newPhonePeFixture(t, stub)

	result := provider.InitiatePayment(context.Background(), InitiateRequest{MerchantOrderID: "ord_1", Amount: 0, RedirectURL: "https://x"})
	if result.Success || result.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", result)
	}
	if stub.tokenCalls.Load() != 0 {
		t.Fatalf("expected no token fetch for invalid input")
	}
}

func TestPhonePeReusesTokenAcrossCalls(t *testing.T) {
	stub := &phonePeStub{payBody: `{"orderId":"OMO1","state":"PENDING","redirectUrl":"https://pay"}`}
	provider, clock := newPhonePeFixture(t, stub)
	req := InitiateRequest{MerchantOrderID: "ord_1", Amount: 10, RedirectURL: "https://shop.example/return"}

	provider.InitiatePayment(context.Background(), req)
	clock.Advance(30 * time.Minute)
	provider.InitiatePayment(context.Background(), req)
	if got := stub.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected cached token, got %d token calls", got)
	}

	clock.Advance(29*time.Minute + 30*time.Second)
	provider.InitiatePayment(context.Background(), req)
	if got := stub.tokenCalls.Load(); got != 2 {
		t.Fatalf("expected refresh within 60s of expiry, got %d token calls", got)
	}
}

func TestPhonePeUnauthorizedInvalidatesToken(t *testing.T) {
	stub := &phonePeStub{payBody: `{"orderId":"OMO1","state":"PENDING","redirectUrl":"https://pay"}`}
	stub.rejectFirst.Store(true)
	provider, _ := newPhonePeFixture(t, stub)
	req := InitiateRequest{MerchantOrderID: "ord_1", Amount: 10, RedirectURL: "https://shop.example/return"}

	first := provider.InitiatePayment(context.Background(), req)
	if first.Success || first.Code != "UNAUTHORIZED" {
		t.Fatalf("expected unauthorized failure, got %+v", first)
	}
	second := provider.InitiatePayment(context.Background(), req)
	if !second.Success {
		t.Fatalf("expected retry to succeed, got %+v", second)
	}
	if got := stub.tokenCalls.Load(); got != 2 {
		t.Fatalf("expected token refetch after 401, got %d", got)
	}
}

func TestPhonePeTokenFailureIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"INVALID_CLIENT","message":"bad credentials"}`))
	}))
	t.Cleanup(srv.Close)

	provider, err := NewPhonePeProvider(PhonePeConfig{
		ClientID:     "client",
		ClientSecret: "wrong",
		AuthBaseURL:  srv.URL,
		PGBaseURL:    srv.URL,
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	result := provider.InitiatePayment(context.Background(), InitiateRequest{MerchantOrderID: "ord_1", Amount: 10, RedirectURL: "https://x"})
	if result.Success || result.Code != CodeAuthFailed {
		t.Fatalf("expected auth failure, got %+v", result)
	}
	if !strings.Contains(result.Message, "bad credentials") {
		t.Fatalf("expected gateway message, got %q", result.Message)
	}
}

func TestPhonePeCheckPaymentStatusCompleted(t *testing.T) {
	stub := &phonePeStub{
		statusBody: `{"orderId":"OMO1","state":"COMPLETED","amount":123457,"paymentDetails":[{"transactionId":"T1","paymentMode":"UPI_QR","state":"FAILED"},{"transactionId":"T2","paymentMode":"UPI_INTENT","state":"COMPLETED"}]}`,
	}
	provider, _ := newPhonePeFixture(t, stub)

	result := provider.CheckPaymentStatus(context.Background(), "ord_123")
	if !result.Success || result.State != StateCompleted {
		t.Fatalf("expected completed, got %+v", result)
	}
	if result.TransactionID != "T2" || result.PaymentMode != "UPI_INTENT" {
		t.Fatalf("expected completed attempt details, got %+v", result)
	}
	if result.Amount != 123457 {
		t.Fatalf("unexpected amount %d", result.Amount)
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.lastPath != "/checkout/v2/order/ord_123/status" {
		t.Fatalf("unexpected path %q", stub.lastPath)
	}
}

func TestPhonePeCheckPaymentStatusPendingAndFailed(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		state string
		code  string
	}{
		{name: "pending", body: `{"orderId":"OMO1","state":"PENDING","paymentDetails":[]}`, state: StatePending, code: StatePending},
		{name: "failed", body: `{"orderId":"OMO1","state":"FAILED","paymentDetails":[{"transactionId":"T1","paymentMode":"CARD","state":"FAILED","errorCode":"TXN_DECLINED"}]}`, state: StateFailed, code: "TXN_DECLINED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider, _ := newPhonePeFixture(t, &phonePeStub{statusBody: tc.body})
			result := provider.CheckPaymentStatus(context.Background(), "ord_1")
			if result.Success {
				t.Fatalf("expected non-success")
			}
			if result.State != tc.state || result.Code != tc.code {
				t.Fatalf("unexpected result %+v", result)
			}
		})
	}
}

func TestPhonePeCheckPaymentStatusNotFound(t *testing.T) {
	stub := &phonePeStub{
		statusCode: http.StatusNotFound,
		statusBody: `{"code":"ORDER_NOT_FOUND","message":"No order found"}`,
	}
	provider, _ := newPhonePeFixture(t, stub)

	result := provider.LookupPayment(context.Background(), LookupRequest{MerchantOrderID: "ord_missing"})
	if result.Success || result.Code != "ORDER_NOT_FOUND" || result.Message != "No order found" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPhonePeCheckPaymentStatusInvalidJSON(t *testing.T) {
	provider, _ := newPhonePeFixture(t, &phonePeStub{statusBody: `<html>oops</html>`})
	result := provider.CheckPaymentStatus(context.Background(), "ord_1")
	if result.Success || result.Code != CodeInvalidResponse {
		t.Fatalf("expected invalid response, got %+v", result)
	}
}

func TestPhonePeNetworkFailureIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	provider, err := NewPhonePeProvider(PhonePeConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthBaseURL:  url,
		PGBaseURL:    url,
		HTTPClient:   &http.Client{Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	result := provider.CheckPaymentStatus(context.Background(), "ord_1")
	if result.Success || result.Code != CodeAuthFailed {
		t.Fatalf("expected structured failure, got %+v", result)
	}
}

func TestNewPhonePeProviderValidatesConfig(t *testing.T) {
	if _, err := NewPhonePeProvider(PhonePeConfig{}); err == nil {
		t.Fatalf("expected error without credentials")
	}
	if _, err := NewPhonePeProvider(PhonePeConfig{ClientID: "a", ClientSecret: "b", Environment: "staging"}); err == nil {
		t.Fatalf("expected error for unknown environment")
	}
	p, err := NewPhonePeProvider(PhonePeConfig{ClientID: "a", ClientSecret: "b", Environment: PhonePeProduction})
	if err != nil {
		t.Fatalf("production config: %v", err)
	}
	if p.authBaseURL != phonePeProductionAuthURL || p.pgBaseURL != phonePeProductionPGURL {
		t.Fatalf("unexpected production urls %q %q", p.authBaseURL, p.pgBaseURL)
	}
}
