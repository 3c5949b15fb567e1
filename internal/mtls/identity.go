package mtls

import (
	"context"
	"crypto/tls"

	"github.com/gin-gonic/gin"
)

// UnknownPrincipal is reported when no verified peer certificate carries a
// usable identity. Resolution is deliberately infallible; authorization
// decisions belong to the handlers, not here.
const UnknownPrincipal = "unknown_user"

// ContextKey namespaces request-context values set by this package.
type ContextKey string

// PrincipalKey is the gin context key holding the resolved caller identity.
const PrincipalKey ContextKey = "principal"

// Principal resolves the caller identity from a connection state: the
// subject common name of the first verified peer certificate. Absent or
// anonymous peers resolve to UnknownPrincipal.
func Principal(cs *tls.ConnectionState) string {
	if cs == nil || len(cs.PeerCertificates) == 0 {
		return UnknownPrincipal
	}
	cn := cs.PeerCertificates[0].Subject.CommonName
	if cn == "" {
		return UnknownPrincipal
	}
	return cn
}

// GinIdentity resolves the principal once per request and stores it in the
// gin context for handlers and audit hooks.
func GinIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(PrincipalKey), Principal(c.Request.TLS))
		c.Next()
	}
}

// WithPrincipal tags a context with the caller identity so audit hooks
// running below the HTTP layer can attribute the action.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// PrincipalFromContext reads the identity set by WithPrincipal, resolving to
// UnknownPrincipal for untagged contexts.
func PrincipalFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(PrincipalKey).(string); ok && s != "" {
		return s
	}
	return UnknownPrincipal
}

// PrincipalFrom reads the identity stored by GinIdentity, falling back to
// direct resolution when the middleware did not run.
func PrincipalFrom(c *gin.Context) string {
	if v, ok := c.Get(string(PrincipalKey)); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return Principal(c.Request.TLS)
}
