package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/educ8africa/authcore"
)

// Validator verifies access tokens. *authcore.Engine implements it.
type Validator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*authcore.AccessResult, error)
}

type accessResultContextKey struct{}

// AccessResultFromContext returns the result stored by [Guard].
func AccessResultFromContext(ctx context.Context) (*authcore.AccessResult, bool) {
	res, ok := ctx.Value(accessResultContextKey{}).(*authcore.AccessResult)
	return res, ok
}

// Guard rejects requests without a valid bearer access token. Whether a
// revoked session is also rejected follows the engine's StrictAccess setting.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := v.ValidateAccess(r.Context(), token)
			if err != nil {
				code := http.StatusUnauthorized
				if errors.Is(err, authcore.ErrUnavailable) {
					code = http.StatusServiceUnavailable
				}
				http.Error(w, http.StatusText(code), code)
				return
			}

			ctx := context.WithValue(r.Context(), accessResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
