package chi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/kailas-cloud/pagedex/internal/domain/division"
)

// Headers a delegate key uses to name the end caller.
const (
	HeaderCallerDivision     = "X-Caller-Division"
	HeaderCallerUnrestricted = "X-Caller-Unrestricted"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// APIKey binds a bearer token to a principal. A delegate key belongs to a
// trusted web layer; its principal is taken from the caller headers.
type APIKey struct {
	Key       string
	Principal division.Principal
	Delegate  bool
}

type principalKey struct{}

// WithPrincipal stores the authenticated caller in the context.
func WithPrincipal(ctx context.Context, p division.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller. A request that never
// went through the middleware is a restricted caller with no division.
func PrincipalFromContext(ctx context.Context) division.Principal {
	p, _ := ctx.Value(principalKey{}).(division.Principal)
	return p
}

// Authenticator resolves principals from bearer tokens.
type Authenticator struct {
	keys      map[string]APIKey
	anonymous division.Principal
}

// NewAuthenticator creates an Authenticator. With no keys every request runs
// as the anonymous principal.
func NewAuthenticator(keys []APIKey, anonymous division.Principal) *Authenticator {
	m := make(map[string]APIKey, len(keys))
	for _, k := range keys {
		if k.Key != "" {
			m[k.Key] = k
		}
	}
	return &Authenticator{keys: m, anonymous: anonymous}
}

// Middleware validates the Authorization header and attaches the principal.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := exemptPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		if len(a.keys) == 0 {
			notePrincipal(r.Context(), a.anonymous)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), a.anonymous)))
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing authorization header")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(auth, bearerPrefix) {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authorization header must use Bearer scheme")
			return
		}

		key, ok := a.keys[auth[len(bearerPrefix):]]
		if !ok {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
			return
		}

		p := key.Principal
		if key.Delegate {
			p = delegated(key.Principal.Name, r.Header)
		}
		notePrincipal(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func delegated(name string, h http.Header) division.Principal {
	unrestricted, _ := strconv.ParseBool(h.Get(HeaderCallerUnrestricted))
	return division.Principal{
		Name:         name,
		Division:     division.Normalize(h.Get(HeaderCallerDivision)),
		Unrestricted: unrestricted,
	}
}
