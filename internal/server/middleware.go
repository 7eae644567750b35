package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/principal"
)

type contextKey struct{}

// Middleware resolves the {server} URL parameter into a request Context.
type Middleware struct {
	Resolver *Resolver
}

// WithServer resolves authorization for the addressed server and stores
// the Context for downstream handlers.
func (m Middleware) WithServer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal.FromContext(r.Context())
		if !ok {
			httpx.RespondError(w, apperr.Authentication(""))
			return
		}
		sctx, err := m.Resolver.Resolve(r.Context(), p, chi.URLParam(r, "server"))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWith(r.Context(), sctx)))
	})
}

// RequirePermission gates a route on a single permission. A failed gate is
// always the uniform 403 and produces no side effects.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sctx := FromContext(r.Context())
			if sctx == nil || !sctx.Allows(perm) {
				httpx.RespondError(w, apperr.Authorization())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContextWith stores the resolved server context.
func ContextWith(ctx context.Context, sctx *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, sctx)
}

// FromContext retrieves the resolved server context, or nil.
func FromContext(ctx context.Context) *Context {
	sctx, _ := ctx.Value(contextKey{}).(*Context)
	return sctx
}
