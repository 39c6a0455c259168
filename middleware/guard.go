package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goToken "github.com/MrEthical07/goToken"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by [RequireAccess].
func ClaimsFromContext(ctx context.Context) (*goToken.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goToken.AccessClaims)
	return claims, ok
}

// RequireAccess rejects requests without a valid bearer access token with
// 401. An expired token gets a WWW-Authenticate error of invalid_token.
func RequireAccess(engine *goToken.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gotoken"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.VerifyAccessToken(raw)
			if err != nil {
				if errors.Is(err, goToken.ErrTokenExpired) {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
				} else {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(withClientInfo(r), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClientInfo attaches the remote IP and User-Agent of every request.
func WithClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withClientInfo(r)))
	})
}

func withClientInfo(r *http.Request) context.Context {
	ctx := r.Context()
	if ip := remoteIP(r.RemoteAddr); ip != "" {
		ctx = goToken.WithClientIP(ctx, ip)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = goToken.WithUserAgent(ctx, ua)
	}
	return ctx
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if net.ParseIP(host) == nil {
		return ""
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	raw := strings.TrimSpace(value[len(bearer):])
	if raw == "" {
		return "", false
	}

	return raw, true
}
