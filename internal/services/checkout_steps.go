package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Checkout step names.
const (
	StepAddress     = "address"
	StepVATNumber   = "vatnumber"
	StepTerms       = "terms"
	StepCreditUsage = "creditusage"
)

// CheckoutStep is one validation step of the checkout. The set of implementations is closed.
type CheckoutStep interface {
	Name() string
	Active(cart Cart) bool
	Mandatory() bool
	// CheckStatus validates input merged over the step's cached data and may update cart fields
	// the step owns.
	CheckStatus(ctx context.Context, cart *Cart, input map[string]string) (StepResult, error)

	checkoutStep()
}

// StepResult is the outcome of a step check.
type StepResult struct {
	Valid bool
	Data  map[string]string
}

// CheckoutStepsConfig selects and configures the checkout steps.
type CheckoutStepsConfig struct {
	RequiredAddresses []string
	Addresses         AddressBook
	VATStep           bool
	VATMandatory      bool
	VAT               VATVerifier
	TermsStep         bool
	CreditUsageStep   bool
}

// BuildCheckoutSteps returns the configured steps in display order.
func BuildCheckoutSteps(cfg CheckoutStepsConfig) ([]CheckoutStep, error) {
	var steps []CheckoutStep
	if len(cfg.RequiredAddresses) > 0 {
		if cfg.Addresses == nil {
			return nil, fmt.Errorf("%w: address step requires an address book", ErrCheckoutInvalid)
		}
		kinds := make([]string, 0, len(cfg.RequiredAddresses))
		for _, kind := range cfg.RequiredAddresses {
			if kind = strings.ToLower(strings.TrimSpace(kind)); kind != "" {
				kinds = append(kinds, kind)
			}
		}
		steps = append(steps, addressStep{kinds: kinds, book: cfg.Addresses})
	}
	if cfg.VATStep {
		steps = append(steps, vatNumberStep{mandatory: cfg.VATMandatory, verifier: cfg.VAT})
	}
	if cfg.TermsStep {
		steps = append(steps, termsStep{})
	}
	if cfg.CreditUsageStep {
		steps = append(steps, creditUsageStep{})
	}
	return steps, nil
}

type addressStep struct {
	kinds []string
	book  AddressBook
}

func (addressStep) checkoutStep()      {}
func (addressStep) Name() string       { return StepAddress }
func (s addressStep) Active(Cart) bool { return len(s.kinds) > 0 }
func (addressStep) Mandatory() bool    { return true }

// CheckStatus expects one address id per required kind, e.g. {"billing": "addr-1"}.
func (s addressStep) CheckStatus(ctx context.Context, cart *Cart, input map[string]string) (StepResult, error) {
	known, err := s.book.List(ctx, cart.UserID)
	if err != nil {
		return StepResult{}, err
	}
	byID := make(map[string]Address, len(known))
	for _, addr := range known {
		byID[addr.ID] = addr
	}

	data := make(map[string]string, len(s.kinds))
	valid := true
	selected := make(map[string]string, len(s.kinds))
	for _, kind := range s.kinds {
		id := strings.TrimSpace(input[kind])
		addr, ok := byID[id]
		if id == "" || !ok {
			valid = false
			continue
		}
		data[kind] = id
		selected[kind] = addr.Country
	}
	if !valid {
		return StepResult{Valid: false, Data: data}, nil
	}

	if cart.Addresses == nil {
		cart.Addresses = make(map[string]string, len(data))
	}
	for kind, id := range data {
		cart.Addresses[kind] = id
	}
	country := selected["billing"]
	if country == "" {
		country = selected[s.kinds[0]]
	}
	cart.TaxCountry = strings.ToUpper(country)
	return StepResult{Valid: true, Data: data}, nil
}

type vatNumberStep struct {
	mandatory bool
	verifier  VATVerifier
}

func (vatNumberStep) checkoutStep()     {}
func (vatNumberStep) Name() string      { return StepVATNumber }
func (vatNumberStep) Active(Cart) bool  { return true }
func (s vatNumberStep) Mandatory() bool { return s.mandatory }

// CheckStatus reads "country" and "vatNumber". An empty number clears the cart's VAT fields.
func (s vatNumberStep) CheckStatus(ctx context.Context, cart *Cart, input map[string]string) (StepResult, error) {
	country := strings.ToUpper(strings.TrimSpace(input["country"]))
	number := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(input["vatNumber"]), " ", ""))
	if number == "" {
		cart.VATNumber, cart.VATCountry, cart.VATVerified = "", "", false
		return StepResult{Valid: !s.mandatory, Data: map[string]string{}}, nil
	}

	data := map[string]string{"country": country, "vatNumber": number}
	if _, err := language.ParseRegion(country); err != nil {
		cart.VATNumber, cart.VATCountry, cart.VATVerified = number, country, false
		return StepResult{Valid: false, Data: data}, nil
	}

	verified := len(number) >= 4
	if s.verifier != nil {
		ok, err := s.verifier.VerifyVAT(ctx, country, number)
		if err != nil {
			return StepResult{}, err
		}
		verified = ok
	}
	cart.VATNumber, cart.VATCountry, cart.VATVerified = number, country, verified
	return StepResult{Valid: verified, Data: data}, nil
}

type termsStep struct{}

func (termsStep) checkoutStep()    {}
func (termsStep) Name() string     { return StepTerms }
func (termsStep) Active(Cart) bool { return true }
func (termsStep) Mandatory() bool  { return true }

func (termsStep) CheckStatus(_ context.Context, _ *Cart, input map[string]string) (StepResult, error) {
	accepted := isTruthy(input["accepted"])
	data := map[string]string{}
	if accepted {
		data["accepted"] = "true"
	}
	return StepResult{Valid: accepted, Data: data}, nil
}

type creditUsageStep struct{}

func (creditUsageStep) checkoutStep()    {}
func (creditUsageStep) Name() string     { return StepCreditUsage }
func (creditUsageStep) Active(Cart) bool { return true }
func (creditUsageStep) Mandatory() bool  { return false }

func (creditUsageStep) CheckStatus(_ context.Context, cart *Cart, input map[string]string) (StepResult, error) {
	if raw, ok := input["useCredit"]; ok {
		cart.UseCredit = isTruthy(raw)
	}
	value := "false"
	if cart.UseCredit {
		value = "true"
	}
	return StepResult{Valid: true, Data: map[string]string{"useCredit": value}}, nil
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
