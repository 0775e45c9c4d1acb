package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultStorageBackend = StorageBackendFirestore
	defaultTaxRate        = 0.08
	defaultTimezone       = "Asia/Kolkata"
	defaultCurrency       = "INR"
	defaultCounterID      = "orders"
	defaultMailCollection = "mail"
	defaultStoreName      = "DrBackfit"
	defaultPhonePeEnv     = PhonePeSandbox
	defaultPhonePeVersion = "1"
	defaultPhonePeExpiry  = 20 * time.Minute
	defaultPhonePeRate    = 20.0
	defaultPhonePeTimeout = 10 * time.Second
	defaultOIDCJWKSURL    = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer = "https://accounts.google.com"
	defaultSweepAge       = 15 * time.Minute
	defaultTokenKeyPrefix = "phonepe:token"
	defaultEnvironment    = "local"
	defaultWebhookRate    = 5.0
	defaultWebhookBurst   = 10
)

const (
	// StorageBackendFirestore persists orders in Cloud Firestore.
	StorageBackendFirestore = "firestore"
	// StorageBackendMemory keeps everything in process, for local development.
	StorageBackendMemory = "memory"

	// PhonePeSandbox targets the PhonePe pre-production environment.
	PhonePeSandbox = "sandbox"
	// PhonePeProduction targets the live PhonePe environment.
	PhonePeProduction = "production"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Orders    OrdersConfig
	Mail      MailConfig
	PhonePe   PhonePeConfig
	PSP       PSPConfig
	Redis     RedisConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic receiving order lifecycle events. Empty disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// OrdersConfig holds checkout pricing and numbering parameters.
type OrdersConfig struct {
	TaxRate      float64
	ShippingFlat float64
	Timezone     string
	Location     *time.Location
	Currency     string
	CounterID    string
	SweepAge     time.Duration
}

// MailConfig controls the Trigger Email queue collection and template branding.
type MailConfig struct {
	Collection   string
	StoreName    string
	SupportEmail string
	SiteURL      string
}

// PhonePeConfig holds PhonePe Standard Checkout credentials.
type PhonePeConfig struct {
	ClientID         string
	ClientSecret     string
	ClientVersion    string
	Environment      string
	RedirectURL      string
	CallbackUsername string
	CallbackPassword string
	ExpireAfter      time.Duration
	RequestsPerSec   float64
	Timeout          time.Duration
}

// Enabled reports whether credentials are present.
func (c PhonePeConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// PSPConfig collects secrets for secondary payment providers.
type PSPConfig struct {
	StripeAPIKey    string
	StripeAccountID string
	StripeCurrency  []string
}

// RedisConfig points at an optional shared token store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	// WebhookRateLimit caps gateway callbacks per source address. Zero disables the limit.
	WebhookRateLimit float64
	WebhookBurst     int
}

// OIDCConfig controls Google-signed token verification on internal job routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	redacted []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.redacted, ", "))
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "PhonePe.ClientSecret") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "API_STORAGE_BACKEND", defaultStorageBackend)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Orders: OrdersConfig{
			TaxRate:      floatWithDefault(lookup, "API_ORDERS_TAX_RATE", defaultTaxRate),
			ShippingFlat: floatWithDefault(lookup, "API_ORDERS_SHIPPING_FLAT", 0),
			Timezone:     stringWithDefault(lookup, "API_ORDERS_TIMEZONE", defaultTimezone),
			Currency:     strings.ToUpper(stringWithDefault(lookup, "API_ORDERS_CURRENCY", defaultCurrency)),
			CounterID:    stringWithDefault(lookup, "API_ORDERS_COUNTER_ID", defaultCounterID),
			SweepAge:     durationWithDefault(lookup, "API_ORDERS_PAYMENT_SWEEP_AGE", defaultSweepAge),
		},
		Mail: MailConfig{
			Collection:   stringWithDefault(lookup, "API_MAIL_COLLECTION", defaultMailCollection),
			StoreName:    stringWithDefault(lookup, "API_MAIL_STORE_NAME", defaultStoreName),
			SupportEmail: stringWithDefault(lookup, "API_MAIL_SUPPORT_EMAIL", ""),
			SiteURL:      stringWithDefault(lookup, "API_MAIL_SITE_URL", ""),
		},
		PhonePe: PhonePeConfig{
			ClientID:         stringWithDefault(lookup, "API_PHONEPE_CLIENT_ID", ""),
			ClientSecret:     stringWithDefault(lookup, "API_PHONEPE_CLIENT_SECRET", ""),
			ClientVersion:    stringWithDefault(lookup, "API_PHONEPE_CLIENT_VERSION", defaultPhonePeVersion),
			Environment:      strings.ToLower(stringWithDefault(lookup, "API_PHONEPE_ENVIRONMENT", defaultPhonePeEnv)),
			RedirectURL:      stringWithDefault(lookup, "API_PHONEPE_REDIRECT_URL", ""),
			CallbackUsername: stringWithDefault(lookup, "API_PHONEPE_CALLBACK_USERNAME", ""),
			CallbackPassword: stringWithDefault(lookup, "API_PHONEPE_CALLBACK_PASSWORD", ""),
			ExpireAfter:      durationWithDefault(lookup, "API_PHONEPE_EXPIRE_AFTER", defaultPhonePeExpiry),
			RequestsPerSec:   floatWithDefault(lookup, "API_PHONEPE_RATE_LIMIT", defaultPhonePeRate),
			Timeout:          durationWithDefault(lookup, "API_PHONEPE_TIMEOUT", defaultPhonePeTimeout),
		},
		PSP: PSPConfig{
			StripeAPIKey:    stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeAccountID: stringWithDefault(lookup, "API_PSP_STRIPE_ACCOUNT_ID", ""),
			StripeCurrency:  csvWithDefault(lookup, "API_PSP_STRIPE_CURRENCIES"),
		},
		Redis: RedisConfig{
			Addr:      stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password:  stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:        intWithDefault(lookup, "API_REDIS_DB", 0),
			KeyPrefix: stringWithDefault(lookup, "API_REDIS_TOKEN_PREFIX", defaultTokenKeyPrefix),
		},
		Security: SecurityConfig{
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
			Environment:      strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			WebhookRateLimit: floatWithDefault(lookup, "API_SECURITY_WEBHOOK_RATE_LIMIT", defaultWebhookRate),
			WebhookBurst:     intWithDefault(lookup, "API_SECURITY_WEBHOOK_BURST", defaultWebhookBurst),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PhonePe.ClientSecret", &cfg.PhonePe.ClientSecret},
		{"PhonePe.CallbackPassword", &cfg.PhonePe.CallbackPassword},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg *Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendFirestore:
		if cfg.Firebase.ProjectID == "" {
			missing = append(missing, "Firebase.ProjectID")
		}
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Storage.Backend")
	}
	if cfg.Orders.TaxRate < 0 || cfg.Orders.TaxRate >= 1 {
		missing = append(missing, "Orders.TaxRate")
	}
	if cfg.Orders.ShippingFlat < 0 {
		missing = append(missing, "Orders.ShippingFlat")
	}
	if loc, err := time.LoadLocation(cfg.Orders.Timezone); err != nil {
		missing = append(missing, "Orders.Timezone")
	} else {
		cfg.Orders.Location = loc
	}
	if strings.TrimSpace(cfg.Mail.Collection) == "" {
		missing = append(missing, "Mail.Collection")
	}
	switch cfg.PhonePe.Environment {
	case PhonePeSandbox, PhonePeProduction:
	default:
		missing = append(missing, "PhonePe.Environment")
	}
	if cfg.PhonePe.Enabled() && cfg.PhonePe.RedirectURL == "" {
		missing = append(missing, "PhonePe.RedirectURL")
	}
	if cfg.PhonePe.RequestsPerSec <= 0 {
		missing = append(missing, "PhonePe.RequestsPerSec")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var redacted []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] != "" {
			continue
		}
		redacted = append(redacted, redactSecretName(name))
	}
	if len(redacted) == 0 {
		return nil
	}
	sort.Strings(redacted)
	return &MissingSecretsError{redacted: redacted}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// readDotEnv parses the optional .env file. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
