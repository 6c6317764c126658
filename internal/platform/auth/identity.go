package auth

import (
	"context"
	"strings"
)

// Capabilities carried in the caps custom claim.
const (
	CapabilityBuy            = "buy"
	CapabilityCashier        = "cashier"
	CapabilityVerifyPayments = "verify_payments"
)

// Identity is the authenticated end user behind a request.
type Identity struct {
	UID          string
	UserID       int64
	Email        string
	Guest        bool
	Capabilities []string
}

// Can reports whether the identity holds the capability (case-insensitive).
func (i *Identity) Can(capability string) bool {
	if i == nil {
		return false
	}
	capability = normaliseCapability(capability)
	for _, c := range i.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// Permissions answers capability questions from the identity on the request context.
// Only the authenticated user can be asked about; any other id is denied.
type Permissions struct{}

// IsCashier reports whether userID is the caller and holds the cashier capability.
func (Permissions) IsCashier(ctx context.Context, userID int64) bool {
	return callerCan(ctx, userID, CapabilityCashier)
}

// CanBuy reports whether userID is the caller and may check out. Cashiers always may.
func (Permissions) CanBuy(ctx context.Context, userID int64) bool {
	return callerCan(ctx, userID, CapabilityBuy) || callerCan(ctx, userID, CapabilityCashier)
}

// CanVerifyPayments reports whether userID may confirm payments without a total match.
func (Permissions) CanVerifyPayments(ctx context.Context, userID int64) bool {
	return callerCan(ctx, userID, CapabilityVerifyPayments)
}

func callerCan(ctx context.Context, userID int64, capability string) bool {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.UserID != userID {
		return false
	}
	return identity.Can(capability)
}

func normaliseCapability(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
