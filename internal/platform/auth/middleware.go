package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/httpx"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/requestctx"
)

const (
	defaultUserIDClaim     = "userId"
	defaultCapabilityClaim = "caps"
	defaultVerifyTimeout   = 5 * time.Second
	anonymousProvider      = "anonymous"
)

var errMissingUserID = errors.New("auth: token carries no numeric user id")

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into Identity values.
type Authenticator struct {
	verifier        TokenVerifier
	userIDClaim     string
	capabilityClaim string
	allowGuests     bool
	timeout         time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithUserIDClaim overrides the custom claim holding the numeric user id.
func WithUserIDClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.userIDClaim = claim
		}
	}
}

// WithCapabilityClaim overrides the custom claim holding capabilities.
func WithCapabilityClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.capabilityClaim = claim
		}
	}
}

// WithGuests lets anonymous Firebase sessions through as guest users with a derived negative id.
func WithGuests() Option {
	return func(a *Authenticator) {
		a.allowGuests = true
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs a Firebase Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:        verifier,
		userIDClaim:     defaultUserIDClaim,
		capabilityClaim: defaultCapabilityClaim,
		timeout:         defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireUser verifies the bearer token and requires every listed capability.
func (a *Authenticator) RequireUser(capabilities ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		if c = normaliseCapability(c); c != "" {
			required = append(required, c)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "unauthenticated", "authorization service unavailable")
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			token, err := a.verifier.VerifyIDToken(verifyCtx, tokenStr)
			cancel()
			if err != nil {
				respondVerificationError(ctx, w, err)
				return
			}

			identity, err := a.identityFromToken(token)
			if err != nil {
				respondAuthError(ctx, w, http.StatusForbidden, "unknown_user", err.Error())
				return
			}
			for _, c := range required {
				if !identity.Can(c) {
					respondAuthError(ctx, w, http.StatusForbidden, "insufficient_capability", "missing capability "+c)
					return
				}
			}

			requestctx.SetUserID(ctx, strconv.FormatInt(identity.UserID, 10))
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) (*Identity, error) {
	identity := &Identity{
		UID:          token.UID,
		Capabilities: capabilitiesFromClaim(token.Claims[a.capabilityClaim]),
	}
	if email, ok := token.Claims["email"].(string); ok {
		identity.Email = strings.TrimSpace(email)
	}

	userID, err := numericClaim(token.Claims[a.userIDClaim])
	switch {
	case err == nil && userID > 0:
		identity.UserID = userID
	case a.allowGuests && token.Firebase.SignInProvider == anonymousProvider:
		identity.UserID = domain.GuestUserID(token.UID)
		identity.Guest = true
		identity.Capabilities = []string{CapabilityBuy}
	default:
		return nil, errMissingUserID
	}
	return identity, nil
}

func numericClaim(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("auth: non-integer user id %v", v)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, errMissingUserID
	}
}

// capabilitiesFromClaim accepts "a,b", ["a","b"] or {"a":true}.
func capabilitiesFromClaim(raw any) []string {
	var values []string
	switch v := raw.(type) {
	case string:
		values = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	case []string:
		values = v
	case map[string]any:
		for key, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				values = append(values, key)
			}
		}
	}

	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		c := normaliseCapability(value)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		respondAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case firebaseauth.IsIDTokenRevoked(err):
		respondAuthError(ctx, w, http.StatusUnauthorized, "token_revoked", "firebase id token revoked")
	default:
		respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
