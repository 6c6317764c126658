package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"golang.org/x/text/currency"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

// IdentifierMetadataKey is the metadata entry carrying the checkout identifier on intents and sessions.
const IdentifierMetadataKey = "checkoutIdentifier"

var errEmptyReference = errors.New("stripe: payment reference is required")

// StripeLogger defines the logging contract for Stripe verifier operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeSessionAPI interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	intents  stripePaymentIntentAPI
	sessions stripeSessionAPI
}

// StripeVerifierConfig configures the StripeVerifier.
type StripeVerifierConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *stripeClients
}

// StripeVerifier implements services.PaymentVerifier against Stripe. References starting
// with "cs_" are Checkout Sessions; everything else is looked up as a PaymentIntent.
type StripeVerifier struct {
	api     stripeClients
	account string
	logger  StripeLogger
}

// NewStripeVerifier constructs a verifier using the given configuration.
func NewStripeVerifier(cfg StripeVerifierConfig) (*StripeVerifier, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents, sessions: sc.CheckoutSessions}
	}
	if clients.intents == nil || clients.sessions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeVerifier{api: clients, account: strings.TrimSpace(cfg.AccountID), logger: logger}, nil
}

// VerifyPayment loads the payment behind reference and reports its settled amount.
func (v *StripeVerifier) VerifyPayment(ctx context.Context, reference string) (services.PaymentConfirmation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return services.PaymentConfirmation{}, errEmptyReference
	}

	var (
		out services.PaymentConfirmation
		err error
	)
	if strings.HasPrefix(reference, "cs_") {
		out, err = v.verifySession(ctx, reference)
	} else {
		out, err = v.verifyIntent(ctx, reference)
	}
	if err != nil {
		v.logger(ctx, "payments.stripe.verify_failed", map[string]any{
			"reference": reference,
			"error":     err.Error(),
		})
		return services.PaymentConfirmation{}, err
	}
	v.logger(ctx, "payments.stripe.verified", map[string]any{
		"reference":  reference,
		"succeeded":  out.Succeeded,
		"amount":     out.Amount.StringFixed(2),
		"currency":   out.Currency,
		"identifier": out.Identifier,
	})
	return out, nil
}

func (v *StripeVerifier) verifyIntent(ctx context.Context, id string) (services.PaymentConfirmation, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}
	intent, err := v.api.intents.Get(id, params)
	if err != nil {
		return services.PaymentConfirmation{}, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	if intent == nil {
		return services.PaymentConfirmation{}, fmt.Errorf("stripe: payment intent %s not found", id)
	}
	succeeded := intent.Status == stripe.PaymentIntentStatusSucceeded
	minor := intent.AmountReceived
	if !succeeded || minor == 0 {
		minor = intent.Amount
	}
	return confirmation(id, succeeded, minor, string(intent.Currency), intent.Metadata)
}

func (v *StripeVerifier) verifySession(ctx context.Context, id string) (services.PaymentConfirmation, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}
	session, err := v.api.sessions.Get(id, params)
	if err != nil {
		return services.PaymentConfirmation{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	if session == nil {
		return services.PaymentConfirmation{}, fmt.Errorf("stripe: checkout session %s not found", id)
	}
	succeeded := session.Status == stripe.CheckoutSessionStatusComplete &&
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	return confirmation(id, succeeded, session.AmountTotal, string(session.Currency), session.Metadata)
}

func confirmation(reference string, succeeded bool, minor int64, code string, metadata map[string]string) (services.PaymentConfirmation, error) {
	amount, unit, err := fromMinorUnits(minor, code)
	if err != nil {
		return services.PaymentConfirmation{}, err
	}
	out := services.PaymentConfirmation{
		Reference: reference,
		Succeeded: succeeded,
		Amount:    amount,
		Currency:  unit,
	}
	if raw := strings.TrimSpace(metadata[IdentifierMetadataKey]); raw != "" {
		identifier, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return services.PaymentConfirmation{}, fmt.Errorf("stripe: invalid %s metadata %q", IdentifierMetadataKey, raw)
		}
		out.Identifier = identifier
	}
	return out, nil
}

// fromMinorUnits converts a Stripe integer amount using the ISO 4217 scale of the currency.
func fromMinorUnits(minor int64, code string) (decimal.Decimal, string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("stripe: unsupported currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return decimal.New(minor, -int32(scale)), unit.String(), nil
}

var _ services.PaymentVerifier = (*StripeVerifier)(nil)
