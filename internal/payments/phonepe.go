package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/drbackfit/storefront/internal/domain"
)

const (
	phonePeSandboxBaseURL    = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	phonePeProductionAuthURL = "https://api.phonepe.com/apis/identity-manager"
	phonePeProductionPGURL   = "https://api.phonepe.com/apis/pg"

	phonePeTokenPath  = "/v1/oauth/token"
	phonePePayPath    = "/checkout/v2/pay"
	phonePeStatusPath = "/checkout/v2/order/%s/status"

	phonePeAuthScheme      = "O-Bearer"
	phonePeFlowType        = "PG_CHECKOUT"
	defaultPhonePeExpiry   = 20 * time.Minute
	defaultPhonePeTimeout  = 15 * time.Second
	defaultPhonePeVersion  = "1"
	maxPhonePeResponseSize = 1 << 20

	phonePeTracerName = "github.com/drbackfit/storefront/internal/payments"
)

// PhonePe environments.
const (
	PhonePeSandbox    = "sandbox"
	PhonePeProduction = "production"
)

// PhonePeConfig configures the PhonePe Standard Checkout v2 client.
type PhonePeConfig struct {
	ClientID      string
	ClientSecret  string
	ClientVersion string
	Environment   string

	// AuthBaseURL and PGBaseURL override the environment defaults.
	AuthBaseURL string
	PGBaseURL   string

	ExpireAfter    time.Duration
	RequestsPerSec float64
	HTTPClient     *http.Client
	TokenStore     TokenStore
	Clock          func() time.Time
	Logger         Logger
	TracerProvider trace.TracerProvider
}

// PhonePeProvider talks to PhonePe's OAuth, pay and order-status endpoints.
type PhonePeProvider struct {
	clientID      string
	clientSecret  string
	clientVersion string
	authBaseURL   string
	pgBaseURL     string
	expireAfter   time.Duration
	httpClient    *http.Client
	limiter       *rate.Limiter
	tokens        *TokenCache
	clock         func() time.Time
	logger        Logger
	tracer        trace.Tracer
}

// NewPhonePeProvider validates cfg and constructs a provider.
func NewPhonePeProvider(cfg PhonePeConfig) (*PhonePeProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("payments: phonepe client id and secret are required")
	}

	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env == "" {
		env = PhonePeSandbox
	}
	var authURL, pgURL string
	switch env {
	case PhonePeSandbox:
		authURL, pgURL = phonePeSandboxBaseURL, phonePeSandboxBaseURL
	case PhonePeProduction:
		authURL, pgURL = phonePeProductionAuthURL, phonePeProductionPGURL
	default:
		return nil, fmt.Errorf("payments: unknown phonepe environment %q", cfg.Environment)
	}
	if v := strings.TrimSpace(cfg.AuthBaseURL); v != "" {
		authURL = v
	}
	if v := strings.TrimSpace(cfg.PGBaseURL); v != "" {
		pgURL = v
	}

	version := strings.TrimSpace(cfg.ClientVersion)
	if version == "" {
		version = defaultPhonePeVersion
	}
	expireAfter := cfg.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = defaultPhonePeExpiry
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultPhonePeTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSec > 0 {
		burst := int(cfg.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	p := &PhonePeProvider{
		clientID:      clientID,
		clientSecret:  clientSecret,
		clientVersion: version,
		authBaseURL:   strings.TrimRight(authURL, "/"),
		pgBaseURL:     strings.TrimRight(pgURL, "/"),
		expireAfter:   expireAfter,
		httpClient:    httpClient,
		limiter:       limiter,
		clock:         clock,
		logger:        logger,
		tracer:        tp.Tracer(phonePeTracerName),
	}

	tokenOpts := []TokenCacheOption{WithTokenClock(clock), WithTokenLogger(logger)}
	if cfg.TokenStore != nil {
		tokenOpts = append(tokenOpts, WithTokenStore(cfg.TokenStore, "phonepe:"+env+":"+clientID))
	}
	p.tokens = NewTokenCache(p.fetchToken, tokenOpts...)
	return p, nil
}

type phonePeTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// fetchToken posts client credentials to the identity endpoint. PhonePe reports an absolute
// expires_at in epoch seconds rather than expires_in.
func (p *PhonePeProvider) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("client_id", p.clientID)
	form.Set("client_version", p.clientVersion)
	form.Set("client_secret", p.clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authBaseURL+phonePeTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payments: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: token request: %w", err)
	}
	defer resp.Body.Close()

	var payload phonePeTokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPhonePeResponseSize)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("payments: decode token response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || payload.AccessToken == "" {
		msg := payload.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("payments: token request rejected (status %d): %s", resp.StatusCode, msg)
	}

	p.logger(ctx, "payments.phonepe.token.refreshed", map[string]any{
		"expiresAt": time.Unix(payload.ExpiresAt, 0).UTC().Format(time.RFC3339),
	})
	return &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
		Expiry:      time.Unix(payload.ExpiresAt, 0),
	}, nil
}

type phonePePayRequest struct {
	MerchantOrderID string             `json:"merchantOrderId"`
	Amount          int64              `json:"amount"`
	ExpireAfter     int64              `json:"expireAfter"`
	MetaInfo        map[string]string  `json:"metaInfo,omitempty"`
	PaymentFlow     phonePePaymentFlow `json:"paymentFlow"`
}

type phonePePaymentFlow struct {
	Type         string              `json:"type"`
	Message      string              `json:"message,omitempty"`
	MerchantURLs phonePeMerchantURLs `json:"merchantUrls"`
}

type phonePeMerchantURLs struct {
	RedirectURL string `json:"redirectUrl"`
}

type phonePePayResponse struct {
	OrderID     string `json:"orderId"`
	State       string `json:"state"`
	ExpireAt    int64  `json:"expireAt"`
	RedirectURL string `json:"redirectUrl"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// InitiatePayment creates a PhonePe checkout. Success requires both an orderId and a redirectUrl
// in the response; anything else is returned as a failure carrying the gateway's code and message.
func (p *PhonePeProvider) InitiatePayment(ctx context.Context, req InitiateRequest) InitiateResult {
	ctx, span := p.tracer.Start(ctx, "phonepe.InitiatePayment", trace.WithAttributes(
		attribute.String("payments.merchant_order_id", req.MerchantOrderID),
	))
	defer span.End()

	result := p.initiate(ctx, req)
	p.finishSpan(span, result.Success, result.Code, result.Message)
	p.logger(ctx, "payments.phonepe.initiate", map[string]any{
		"merchantOrderId": req.MerchantOrderID,
		"success":         result.Success,
		"code":            result.Code,
		"gatewayOrderId":  result.OrderID,
	})
	return result
}

func (p *PhonePeProvider) initiate(ctx context.Context, req InitiateRequest) InitiateResult {
	merchantOrderID := strings.TrimSpace(req.MerchantOrderID)
	if merchantOrderID == "" {
		return failedInitiate(CodeInvalidRequest, "merchant order id is required")
	}
	amount := domain.MinorUnits(req.Amount)
	if amount <= 0 {
		return failedInitiate(CodeInvalidRequest, "amount must be positive")
	}
	if strings.TrimSpace(req.RedirectURL) == "" {
		return failedInitiate(CodeInvalidRequest, "redirect url is required")
	}

	body := phonePePayRequest{
		MerchantOrderID: merchantOrderID,
		Amount:          amount,
		ExpireAfter:     int64(p.expireAfter / time.Second),
		MetaInfo:        req.UDF,
		PaymentFlow: phonePePaymentFlow{
			Type:    phonePeFlowType,
			Message: req.Message,
			MerchantURLs: phonePeMerchantURLs{
				RedirectURL: req.RedirectURL,
			},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return failedInitiate(CodeInvalidRequest, err.Error())
	}

	var payload phonePePayResponse
	status, code, msg := p.do(ctx, http.MethodPost, p.pgBaseURL+phonePePayPath, raw, &payload)
	if code != "" {
		return failedInitiate(code, msg)
	}
	if payload.OrderID == "" || payload.RedirectURL == "" {
		return failedInitiate(gatewayCode(payload.Code, status), gatewayMessage(payload.Message, status))
	}

	result := InitiateResult{
		Success:     true,
		Provider:    ProviderPhonePe,
		RedirectURL: payload.RedirectURL,
		OrderID:     payload.OrderID,
		State:       payload.State,
	}
	if payload.ExpireAt > 0 {
		result.ExpiresAt = time.UnixMilli(payload.ExpireAt).UTC()
	}
	return result
}

type phonePeStatusResponse struct {
	OrderID        string                 `json:"orderId"`
	State          string                 `json:"state"`
	Amount         int64                  `json:"amount"`
	PaymentDetails []phonePePaymentDetail `json:"paymentDetails"`
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	ErrorCode      string                 `json:"errorCode"`
}

type phonePePaymentDetail struct {
	TransactionID string `json:"transactionId"`
	PaymentMode   string `json:"paymentMode"`
	State         string `json:"state"`
	ErrorCode     string `json:"errorCode"`
}

// CheckPaymentStatus queries the order status endpoint for merchantOrderID. Success is true only
// when the gateway reports COMPLETED.
func (p *PhonePeProvider) CheckPaymentStatus(ctx context.Context, merchantOrderID string) StatusResult {
	ctx, span := p.tracer.Start(ctx, "phonepe.CheckPaymentStatus", trace.WithAttributes(
		attribute.String("payments.merchant_order_id", merchantOrderID),
	))
	defer span.End()

	result := p.status(ctx, merchantOrderID)
	p.finishSpan(span, result.Success, result.Code, result.Message)
	span.SetAttributes(attribute.String("payments.state", result.State))
	p.logger(ctx, "payments.phonepe.status", map[string]any{
		"merchantOrderId": merchantOrderID,
		"state":           result.State,
		"code":            result.Code,
	})
	return result
}

// LookupPayment implements Provider by keying on the merchant order id.
func (p *PhonePeProvider) LookupPayment(ctx context.Context, req LookupRequest) StatusResult {
	return p.CheckPaymentStatus(ctx, req.MerchantOrderID)
}

func (p *PhonePeProvider) status(ctx context.Context, merchantOrderID string) StatusResult {
	merchantOrderID = strings.TrimSpace(merchantOrderID)
	if merchantOrderID == "" {
		return failedStatus(CodeInvalidRequest, "merchant order id is required")
	}

	endpoint := p.pgBaseURL + fmt.Sprintf(phonePeStatusPath, url.PathEscape(merchantOrderID)) + "?details=false"
	var payload phonePeStatusResponse
	status, code, msg := p.do(ctx, http.MethodGet, endpoint, nil, &payload)
	if code != "" {
		return failedStatus(code, msg)
	}
	if payload.State == "" {
		return failedStatus(gatewayCode(payload.Code, status), gatewayMessage(payload.Message, status))
	}

	result := StatusResult{
		Provider: ProviderPhonePe,
		State:    payload.State,
		Amount:   payload.Amount,
		Success:  payload.State == StateCompleted,
	}
	if detail, ok := pickPaymentDetail(payload.PaymentDetails); ok {
		result.TransactionID = detail.TransactionID
		result.PaymentMode = detail.PaymentMode
		if !result.Success && detail.ErrorCode != "" {
			result.Code = detail.ErrorCode
		}
	}
	if !result.Success {
		if result.Code == "" {
			result.Code = firstNonEmpty(payload.ErrorCode, payload.Code, payload.State)
		}
		result.Message = payload.Message
	}
	return result
}

// pickPaymentDetail prefers the completed attempt, otherwise the most recent one.
func pickPaymentDetail(details []phonePePaymentDetail) (phonePePaymentDetail, bool) {
	if len(details) == 0 {
		return phonePePaymentDetail{}, false
	}
	for _, d := range details {
		if d.State == StateCompleted {
			return d, true
		}
	}
	return details[len(details)-1], true
}

// do performs an authorised call against the PG API. A non-empty code means the call could not be
// completed and the returned code and message describe why. A rejected token is dropped from the
// cache so the next call fetches a new one.
func (p *PhonePeProvider) do(ctx context.Context, method, endpoint string, body []byte, out any) (int, string, string) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, CodeRateLimited, err.Error()
	}
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return 0, CodeAuthFailed, err.Error()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, CodeInvalidRequest, err.Error()
	}
	req.Header.Set("Authorization", phonePeAuthScheme+" "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, CodeNetworkError, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		p.tokens.Invalidate(ctx)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPhonePeResponseSize))
	if err != nil {
		return resp.StatusCode, CodeNetworkError, err.Error()
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if resp.StatusCode >= 300 {
			return resp.StatusCode, "HTTP_" + strconv.Itoa(resp.StatusCode), http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, CodeInvalidResponse, "empty response body"
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, CodeInvalidResponse, err.Error()
	}
	return resp.StatusCode, "", ""
}

func (p *PhonePeProvider) finishSpan(span trace.Span, success bool, code, message string) {
	if success {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(attribute.String("payments.error_code", code))
	span.SetStatus(codes.Error, message)
}

func gatewayCode(code string, status int) string {
	if code != "" {
		return code
	}
	return "HTTP_" + strconv.Itoa(status)
}

func gatewayMessage(message string, status int) string {
	if message != "" {
		return message
	}
	if text := http.StatusText(status); text != "" {
		return "unexpected gateway response: " + text
	}
	return "unexpected gateway response"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
