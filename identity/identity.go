package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken signals that the caller presented no bearer token.
	ErrMissingToken = errors.New("identity: missing bearer token")
	// ErrInvalidToken signals a token that failed verification.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// Principal is the verified caller. Tokens are issued elsewhere; this
// package only checks them.
type Principal struct {
	ActorID  string
	TenantID string
	Role     string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.ActorID != ""
}

// CurrentActorID returns the authenticated actor or "" when none is set.
func CurrentActorID(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.ActorID
}

func CurrentTenantID(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.TenantID
}

// Verifier validates HMAC-signed JWTs.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses tokenString and extracts the principal. The actor is read
// from user_id, falling back to the registered sub claim.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, ErrMissingToken
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	actor, _ := claims["user_id"].(string)
	if actor == "" {
		actor, _ = claims["sub"].(string)
	}
	if actor == "" {
		return Principal{}, fmt.Errorf("%w: no user_id or sub claim", ErrInvalidToken)
	}
	tenant, _ := claims["tenant_id"].(string)
	role, _ := claims["role"].(string)
	return Principal{ActorID: actor, TenantID: tenant, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token with 401 and
// stores the principal in the request context otherwise.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := v.Verify(BearerToken(r))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintf(w, "{%q:%q}\n", "error", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// BearerToken extracts the token from the Authorization header. Browsers
// cannot set headers on websocket upgrades, so a token query parameter is
// accepted as well.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}
