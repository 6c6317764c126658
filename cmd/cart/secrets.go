package main

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/secrets"
)

func newSecretFetcher(ctx context.Context, logger *zap.Logger, meter metric.Meter, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("CART_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("CART_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("CART_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("CART_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(meter),
	}
	if projects := parseKeyValueList(lookup("CART_SECRET_PROJECT_IDS"), strings.ToLower); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMapping(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	for ref, version := range secretVersionPins(lookup("CART_SECRET_VERSION_PINS")) {
		opts = append(opts, secrets.WithVersionPin(ref, version))
	}

	if credentialsFile := lookup("CART_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		return secrets.NewFetcherWithClientOptions(ctx, []option.ClientOption{option.WithCredentialsFile(credentialsFile)}, opts...)
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets whose owning feature is switched on by the environment.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["CART_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey")
	}
	if strings.TrimSpace(env["CART_PROVIDER_ENDPOINTS"]) != "" {
		required = append(required, "Providers.SigningSecret")
	}
	if strings.TrimSpace(env["CART_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}

// secretVersionPins parses "name=version" pairs. A name may carry an sm:// or secret://
// scheme, which is dropped.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for name, version := range parseKeyValueList(raw, nil) {
		name = strings.TrimPrefix(strings.TrimPrefix(name, "sm://"), "secret://")
		if name != "" {
			pins[name] = version
		}
	}
	return pins
}

func parseKeyValueList(raw string, normalizeKey func(string) string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if normalizeKey != nil {
			key = normalizeKey(key)
		}
		result[key] = value
	}
	return result
}
