// Package authz authenticates operator tokens for the keysd API and scopes
// them to tenants.
package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"channelkeys/internal/jwtsigner"
	"channelkeys/internal/observability/metrics"
	obsmw "channelkeys/internal/observability/middleware"

	"github.com/go-chi/chi/v5"
)

// Operator is the authenticated caller of a tenant route.
type Operator struct {
	Subject string
	Tenants []string
}

// Allows reports whether the operator may act on tenant.
func (o Operator) Allows(tenant string) bool {
	for _, t := range o.Tenants {
		if t == "*" || t == tenant {
			return true
		}
	}
	return false
}

var errNoBearer = errors.New("missing bearer token")

func bearer(r *http.Request) (string, error) {
	raw := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return "", errNoBearer
	}
	return strings.TrimSpace(raw[len("Bearer "):]), nil
}

// operatorFromClaims reads sub, iss and the tenants claim. Both jwt major
// versions hand their MapClaims over as a plain map.
func operatorFromClaims(claims map[string]any, issuer string) (Operator, error) {
	if iss, _ := claims["iss"].(string); issuer != "" && iss != issuer {
		return Operator{}, errors.New("issuer mismatch")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Operator{}, errors.New("no subject")
	}
	op := Operator{Subject: sub}
	switch v := claims[jwtsigner.TenantsClaim].(type) {
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok && s != "" {
				op.Tenants = append(op.Tenants, s)
			}
		}
	case string:
		if v != "" {
			op.Tenants = []string{v}
		}
	}
	if len(op.Tenants) == 0 {
		return Operator{}, errors.New("no tenants claim")
	}
	return op, nil
}

// authenticate wraps next with a token check shared by both validators.
func authenticate(method string, parse func(string) (Operator, error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues(method, result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())

		tok, err := bearer(r)
		if err != nil {
			result = "failure"
			http.Error(w, err.Error(), http.StatusUnauthorized)
			slog.Warn("operator auth missing bearer", "method", method, "request_id", reqID)
			return
		}
		op, err := parse(tok)
		if err != nil {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("operator auth invalid token", "method", method, "error", err, "request_id", reqID)
			return
		}

		slog.Debug("operator auth passed", "method", method, "subject", op.Subject, "request_id", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, op)))
	})
}

type operatorKey struct{}

func OperatorFrom(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}

// RequireTenant rejects requests whose {tenant} URL parameter is outside the
// operator's token scope.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, ok := OperatorFrom(r.Context())
		tenant := chi.URLParam(r, "tenant")
		if !ok || tenant == "" || !op.Allows(tenant) {
			slog.Warn("operator not allowed on tenant", "subject", op.Subject, "tenant", tenant, "request_id", obsmw.RequestIDFromContext(r.Context()))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
