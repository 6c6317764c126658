package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultRedisKeyPrefix      = "cart"
	defaultTasksTopic          = "cart-tasks"
	defaultCartMaxItems        = 10
	defaultCartTTL             = 30 * time.Minute
	defaultCartCurrency        = "EUR"
	defaultTaxMatrix           = "default A:20 B:10 C:0"
	defaultBookingFeeMode      = "once"
	defaultDiscountPrecision   = 2
	defaultRebookingPeriod     = 30 * 24 * time.Hour
	defaultRebookingMax        = 1
	defaultTimezone            = "UTC"
	defaultProviderTimeout     = 5 * time.Second
	defaultBreakerFailures     = 5
	defaultBreakerCooldown     = 30 * time.Second
	defaultProviderSignHeader  = "X-Signature"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Cart        CartConfig
	Providers   ProvidersConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
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

// RedisConfig points at the cart and idempotency cache. An empty Addr selects the Firestore cart backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// PubSubConfig names the topic deferred cart tasks are published to.
type PubSubConfig struct {
	ProjectID  string
	TasksTopic string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	ExportsBucket string
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for task callbacks.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// CartConfig holds the shopping cart business settings.
type CartConfig struct {
	MaxItems          int
	TTL               time.Duration
	Currency          string
	TaxesEnabled      bool
	TaxMatrix         string
	PricesAreNet      bool
	DiscountPrecision int
	CostCenterCredits bool
	SameCostCenter    bool
	Timezone          string

	BookingFee        string
	BookingFeeMode    string
	CancelationFee    string
	RefundQuota       bool
	Installments      bool
	RequiredAddresses []string
	VATStep           bool
	VATMandatory      bool
	TermsStep         bool
	CreditUsageStep   bool

	RebookingEnabled bool
	RebookingPeriod  time.Duration
	RebookingMax     int
	RebookingFee     string
}

// ProvidersConfig configures remote item providers keyed by component name.
type ProvidersConfig struct {
	Endpoints       map[string]string
	SigningSecret   string
	SignatureHeader string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
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
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
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

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
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

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "PSP.StripeAPIKey" or "Providers.SigningSecret").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
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
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CART_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CART_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CART_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CART_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "CART_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "CART_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "CART_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "CART_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:      stringWithDefault(lookup, "CART_REDIS_ADDR", ""),
			Password:  stringWithDefault(lookup, "CART_REDIS_PASSWORD", ""),
			DB:        intWithDefault(lookup, "CART_REDIS_DB", 0),
			KeyPrefix: stringWithDefault(lookup, "CART_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		PubSub: PubSubConfig{
			ProjectID:  stringWithDefault(lookup, "CART_PUBSUB_PROJECT_ID", ""),
			TasksTopic: stringWithDefault(lookup, "CART_PUBSUB_TASKS_TOPIC", defaultTasksTopic),
		},
		Storage: StorageConfig{
			ExportsBucket: stringWithDefault(lookup, "CART_STORAGE_EXPORTS_BUCKET", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey: stringWithDefault(lookup, "CART_PSP_STRIPE_API_KEY", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "CART_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "CART_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "CART_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "CART_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "CART_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "CART_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "CART_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Cart: CartConfig{
			MaxItems:          intWithDefault(lookup, "CART_MAX_ITEMS", defaultCartMaxItems),
			TTL:               durationWithDefault(lookup, "CART_TTL", defaultCartTTL),
			Currency:          strings.ToUpper(stringWithDefault(lookup, "CART_CURRENCY", defaultCartCurrency)),
			TaxesEnabled:      boolWithDefault(lookup, "CART_TAXES_ENABLED", false),
			TaxMatrix:         textWithDefault(lookup, "CART_TAX_MATRIX", defaultTaxMatrix),
			PricesAreNet:      boolWithDefault(lookup, "CART_PRICES_ARE_NET", false),
			DiscountPrecision: intWithDefault(lookup, "CART_DISCOUNT_PRECISION", defaultDiscountPrecision),
			CostCenterCredits: boolWithDefault(lookup, "CART_COSTCENTER_CREDITS", false),
			SameCostCenter:    boolWithDefault(lookup, "CART_SAME_COSTCENTER", false),
			Timezone:          stringWithDefault(lookup, "CART_TIMEZONE", defaultTimezone),
			BookingFee:        stringWithDefault(lookup, "CART_BOOKING_FEE", ""),
			BookingFeeMode:    strings.ToLower(stringWithDefault(lookup, "CART_BOOKING_FEE_MODE", defaultBookingFeeMode)),
			CancelationFee:    stringWithDefault(lookup, "CART_CANCELATION_FEE", ""),
			RefundQuota:       boolWithDefault(lookup, "CART_REFUND_CONSUMED_QUOTA", false),
			Installments:      boolWithDefault(lookup, "CART_INSTALLMENTS", false),
			RequiredAddresses: csvWithDefault(lookup, "CART_REQUIRED_ADDRESSES"),
			VATStep:           boolWithDefault(lookup, "CART_VAT_STEP", false),
			VATMandatory:      boolWithDefault(lookup, "CART_VAT_MANDATORY", false),
			TermsStep:         boolWithDefault(lookup, "CART_TERMS_STEP", false),
			CreditUsageStep:   boolWithDefault(lookup, "CART_CREDIT_USAGE_STEP", true),
			RebookingEnabled:  boolWithDefault(lookup, "CART_REBOOKING_ENABLED", false),
			RebookingPeriod:   durationWithDefault(lookup, "CART_REBOOKING_PERIOD", defaultRebookingPeriod),
			RebookingMax:      intWithDefault(lookup, "CART_REBOOKING_MAX", defaultRebookingMax),
			RebookingFee:      stringWithDefault(lookup, "CART_REBOOKING_FEE", ""),
		},
		Providers: ProvidersConfig{
			Endpoints:       mapWithDefault(lookup, "CART_PROVIDER_ENDPOINTS"),
			SigningSecret:   stringWithDefault(lookup, "CART_PROVIDER_SIGNING_SECRET", ""),
			SignatureHeader: stringWithDefault(lookup, "CART_PROVIDER_SIGNATURE_HEADER", defaultProviderSignHeader),
			Timeout:         durationWithDefault(lookup, "CART_PROVIDER_TIMEOUT", defaultProviderTimeout),
			BreakerFailures: intWithDefault(lookup, "CART_PROVIDER_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown: durationWithDefault(lookup, "CART_PROVIDER_BREAKER_COOLDOWN", defaultBreakerCooldown),
		},
	}

	resolvedSecrets := make(map[string]string)

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	// Values may reference Secret Manager as sm://project/secret[/version].
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Redis.Password", &cfg.Redis.Password},
		{"Providers.SigningSecret", &cfg.Providers.SigningSecret},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		invalid = append(invalid, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Cart.MaxItems <= 0 {
		invalid = append(invalid, "Cart.MaxItems")
	}
	if cfg.Cart.TTL <= 0 {
		invalid = append(invalid, "Cart.TTL")
	}
	if _, err := currency.ParseISO(cfg.Cart.Currency); err != nil {
		invalid = append(invalid, "Cart.Currency")
	}
	if cfg.Cart.DiscountPrecision != 0 && cfg.Cart.DiscountPrecision != 2 {
		invalid = append(invalid, "Cart.DiscountPrecision")
	}
	if _, err := time.LoadLocation(cfg.Cart.Timezone); err != nil {
		invalid = append(invalid, "Cart.Timezone")
	}
	switch cfg.Cart.BookingFeeMode {
	case "once", "always":
	default:
		invalid = append(invalid, "Cart.BookingFeeMode")
	}
	moneyFields := []struct {
		name  string
		value string
	}{
		{"Cart.BookingFee", cfg.Cart.BookingFee},
		{"Cart.CancelationFee", cfg.Cart.CancelationFee},
		{"Cart.RebookingFee", cfg.Cart.RebookingFee},
	}
	for _, field := range moneyFields {
		if field.value == "" {
			continue
		}
		if amount, err := decimal.NewFromString(field.value); err != nil || amount.IsNegative() {
			invalid = append(invalid, field.name)
		}
	}
	if cfg.Cart.RebookingEnabled && (cfg.Cart.RebookingPeriod <= 0 || cfg.Cart.RebookingMax <= 0) {
		invalid = append(invalid, "Cart.Rebooking")
	}
	if cfg.Providers.Timeout <= 0 {
		invalid = append(invalid, "Providers.Timeout")
	}
	for component, endpoint := range cfg.Providers.Endpoints {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			invalid = append(invalid, fmt.Sprintf("Providers.Endpoints[%s]", component))
		}
	}

	if len(invalid) > 0 {
		sort.Strings(invalid)
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
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

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

// textWithDefault reads multi-line values; ";" separates lines in single-line sources such as env vars.
func textWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	value := stringWithDefault(lookup, key, fallback)
	return strings.ReplaceAll(value, ";", "\n")
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
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

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
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
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		secret := strings.TrimSpace(parts[1])
		if name == "" || secret == "" {
			continue
		}
		values[name] = secret
	}
	return values
}
