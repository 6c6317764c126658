// Package httpprovider lets components living in other services own cart items. Each callback
// is a signed JSON POST to <endpoint>/<action>.
package httpprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/auth"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/textutil"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

const (
	actionLoad     = "load"
	actionUnload   = "unload"
	actionCheckout = "checkout"
	actionCancel   = "cancel"
	actionAllow    = "allow"
	actionQuota    = "quota"

	maxResponseBytes = 1 << 20
)

// Config describes one remote component.
type Config struct {
	Component string
	Endpoint  string
	Client    *http.Client
	Signer    *auth.RequestSigner
}

// Provider implements services.ItemProvider over HTTP. Timeouts and circuit breaking are applied
// by the services.ProviderRegistry wrapping it.
type Provider struct {
	component string
	endpoint  *url.URL
	client    *http.Client
	signer    *auth.RequestSigner
}

// StatusError is returned when the component answers with a non-2xx status.
type StatusError struct {
	Component string
	Action    string
	Status    int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpprovider: %s %s returned %d: %s", e.Component, e.Action, e.Status, e.Body)
}

// New validates cfg and builds a provider. Without a client an otelhttp-instrumented one is used.
func New(cfg Config) (*Provider, error) {
	component := strings.TrimSpace(cfg.Component)
	if component == "" {
		return nil, errors.New("httpprovider: component is required")
	}
	endpoint, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"))
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, fmt.Errorf("httpprovider: invalid endpoint %q for %s", cfg.Endpoint, component)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "provider " + component + " " + r.URL.Path
			}),
		)}
	}
	return &Provider{component: component, endpoint: endpoint, client: client, signer: cfg.Signer}, nil
}

// Registration pairs a component with its provider.
type Registration struct {
	Component string
	Provider  *Provider
}

// FromEndpoints builds one provider per configured endpoint, sorted by component.
func FromEndpoints(endpoints map[string]string, client *http.Client, signer *auth.RequestSigner) ([]Registration, error) {
	normalized, components := textutil.ComponentMap(endpoints)

	out := make([]Registration, 0, len(components))
	for _, component := range components {
		provider, err := New(Config{Component: component, Endpoint: normalized[component], Client: client, Signer: signer})
		if err != nil {
			return nil, err
		}
		out = append(out, Registration{Component: component, Provider: provider})
	}
	return out, nil
}

type callbackRequest struct {
	Component     string                 `json:"component"`
	Area          string                 `json:"area"`
	ItemID        int64                  `json:"itemId"`
	UserID        int64                  `json:"userId"`
	PaymentMethod services.PaymentMethod `json:"paymentMethod,omitempty"`
}

type loadResponse struct {
	Item *services.CartItem `json:"item"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type quotaResponse struct {
	Quota float64 `json:"quota"`
}

func (p *Provider) LoadCartItem(ctx context.Context, area string, itemID, userID int64) (*services.CartItem, error) {
	var resp loadResponse
	if err := p.call(ctx, actionLoad, p.request(area, itemID, userID), &resp); err != nil {
		return nil, err
	}
	return resp.Item, nil
}

func (p *Provider) UnloadCartItem(ctx context.Context, area string, itemID, userID int64) (services.UnloadResult, error) {
	var resp services.UnloadResult
	err := p.call(ctx, actionUnload, p.request(area, itemID, userID), &resp)
	return resp, err
}

func (p *Provider) SuccessfulCheckout(ctx context.Context, area string, itemID int64, method services.PaymentMethod, userID int64) (bool, error) {
	req := p.request(area, itemID, userID)
	req.PaymentMethod = method
	var resp successResponse
	err := p.call(ctx, actionCheckout, req, &resp)
	return resp.Success, err
}

func (p *Provider) CancelPurchase(ctx context.Context, area string, itemID, userID int64) (bool, error) {
	var resp successResponse
	err := p.call(ctx, actionCancel, p.request(area, itemID, userID), &resp)
	return resp.Success, err
}

func (p *Provider) AllowAddItemToCart(ctx context.Context, area string, itemID, userID int64) (services.AllowResult, error) {
	var resp services.AllowResult
	err := p.call(ctx, actionAllow, p.request(area, itemID, userID), &resp)
	return resp, err
}

// QuotaConsumed returns the share of the item already used, clamped to [0,1].
func (p *Provider) QuotaConsumed(ctx context.Context, area string, itemID, userID int64) (float64, error) {
	var resp quotaResponse
	if err := p.call(ctx, actionQuota, p.request(area, itemID, userID), &resp); err != nil {
		return 0, err
	}
	switch {
	case resp.Quota < 0:
		return 0, nil
	case resp.Quota > 1:
		return 1, nil
	}
	return resp.Quota, nil
}

func (p *Provider) request(area string, itemID, userID int64) callbackRequest {
	return callbackRequest{Component: p.component, Area: area, ItemID: itemID, UserID: userID}
}

func (p *Provider) call(ctx context.Context, action string, payload callbackRequest, dst any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("httpprovider: encode %s: %w", action, err)
	}
	target := p.endpoint.JoinPath(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpprovider: build %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	p.signer.Sign(req, body)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpprovider: %s %s: %w", p.component, action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("httpprovider: read %s response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Component: p.component,
			Action:    action,
			Status:    resp.StatusCode,
			Body:      textutil.SanitizePlainText(string(data), 200),
		}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("httpprovider: decode %s response: %w", action, err)
	}
	return nil
}

var _ services.ItemProvider = (*Provider)(nil)
