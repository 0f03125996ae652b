// internal/membership/token.go
package membership

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"libraryhub/internal/clock"
	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

// TokenExpiry is the lifetime of a login token.
const TokenExpiry = 24 * time.Hour

var errInvalidToken = apperr.Unauthorized("INVALID_TOKEN", "missing or invalid bearer token")

// Claims represents the JWT claims.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies member tokens with HS256.
type TokenIssuer struct {
	secret []byte
	clock  clock.Clock
}

func NewTokenIssuer(secret string, clk clock.Clock) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), clock: clk}
}

// Issue creates a token whose subject is the member id.
func (ti *TokenIssuer) Issue(member *Member) (string, time.Time, error) {
	now := ti.clock.Now()
	expires := now.Add(TokenExpiry)
	claims := Claims{
		Email: member.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   member.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a token and returns the member id it was issued to.
func (ti *TokenIssuer) Parse(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithTimeFunc(ti.clock.Now))
	if err != nil {
		return uuid.Nil, errInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, errInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errInvalidToken
	}
	return id, nil
}

type ctxKeyMember struct{}

// RequireMember rejects requests without a valid bearer token and stores
// the caller's member id on the request context.
func (ti *TokenIssuer) RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			web.Error(w, errInvalidToken)
			return
		}
		id, err := ti.Parse(tokenStr)
		if err != nil {
			web.Error(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyMember{}, id)))
	})
}

// MemberIDFrom returns the member id set by RequireMember.
func MemberIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKeyMember{}).(uuid.UUID)
	return id, ok
}
