package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/merchantsec/guardspan"
)

// sessionClaims is the slice of the platform access token this package
// cares about: the tenant claim plus the registered subject.
type sessionClaims struct {
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// Identity returns middleware that attaches the caller's identity and
// client address to the request context. Tokens are HS256 bearer tokens
// signed with key; a request without a valid token is passed through as
// anonymous rather than rejected, since admission control still applies to
// unauthenticated traffic.
func Identity(key []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := guardspan.WithClientAddr(r.Context(), ClientAddr(r))

			if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
				if id, err := parseIdentity(parser, key, token); err == nil {
					ctx = guardspan.WithIdentity(ctx, id)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseIdentity(parser *jwt.Parser, key []byte, token string) (guardspan.Identity, error) {
	parsed, err := parser.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return guardspan.Identity{}, err
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return guardspan.Identity{}, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return guardspan.Identity{}, fmt.Errorf("%w: missing subject", jwt.ErrTokenInvalidClaims)
	}

	return guardspan.Identity{TenantID: claims.TenantID, UserID: claims.Subject}, nil
}

// ClientAddr extracts the caller's network address: the first entry of
// X-Forwarded-For when a trusted proxy set it, otherwise the socket peer.
func ClientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
