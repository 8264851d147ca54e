package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/golang-jwt/jwt/v5"
)

type subjectContextKey string

// SubjectContextKey holds the authenticated token subject.
const SubjectContextKey subjectContextKey = "auth_subject"

// BearerAuth validates HMAC-signed JWT bearer tokens. Tokens must carry an
// exp claim, and when issuer is non-empty their iss claim must match it.
func BearerAuth(secret []byte, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := verifyBearer(r.Header.Get("Authorization"), secret, issuer, time.Now())
			if err != nil {
				envelope := errors.NewErrorEnvelope("UNAUTHORIZED", err.Error()).
					WithCorrelationID(GetRequestID(r.Context()))
				w.Header().Set("WWW-Authenticate", `Bearer realm="sourcetap"`)
				writeErrorResponse(w, envelope, http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if subject != "" {
				ctx = context.WithValue(ctx, SubjectContextKey, subject)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject returns the authenticated subject, if any.
func GetSubject(ctx context.Context) string {
	subject, _ := ctx.Value(SubjectContextKey).(string)
	return subject
}

func verifyBearer(header string, secret []byte, issuer string, now time.Time) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(parts[1], &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("token missing exp claim")
	}
	if now.After(claims.ExpiresAt.Time) {
		return "", fmt.Errorf("token is expired")
	}
	if issuer != "" && claims.Issuer != issuer {
		return "", fmt.Errorf("invalid token issuer")
	}
	return claims.Subject, nil
}
