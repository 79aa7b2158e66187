package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/logger"
)

var signingMethod = jwt.SigningMethodHS256

type userIDKey struct{}

// Authenticator verifies HS256 bearer tokens whose subject is the user id.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Mint signs a token for userID. Issuing tokens belongs to the identity
// service; this is used by tests and local tooling.
func (a *Authenticator) Mint(userID uuid.UUID, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Parse validates token and returns its subject.
func (a *Authenticator) Parse(token string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{signingMethod.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not a user id: %w", err)
	}
	return id, nil
}

// Middleware rejects requests without a bearer token with 401 and requests
// with an invalid or expired one with 403.
func (a *Authenticator) Middleware(log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token := raw
			if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
				token = strings.TrimSpace(raw[7:])
			}
			if token == "" || strings.EqualFold(token, "bearer") {
				writeError(r.Context(), log, w, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
				return
			}

			userID, err := a.Parse(token)
			if err != nil {
				writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeForbidden, err, "invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			ctx = log.WithUserID(ctx, userID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFrom returns the authenticated user of the request.
func UserIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey{}).(uuid.UUID)
	return id, ok
}
