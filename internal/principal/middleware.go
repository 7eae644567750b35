package principal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/platform/httpx"
)

type contextKey struct{}

// RepositoryPort defines the data access used during authentication.
type RepositoryPort interface {
	GetKeyByIdentifier(ctx context.Context, identifier string) (APIKey, error)
	GetPrincipal(ctx context.Context, id int64) (Principal, error)
	TouchKey(ctx context.Context, keyID int64) error
}

// Authenticator resolves bearer API keys into principals.
type Authenticator struct {
	Repo   RepositoryPort
	Logger *slog.Logger
}

// Middleware rejects requests without a valid API key and stores the
// resolved principal in the request context.
func (a Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWith(r.Context(), p)))
	})
}

func (a Authenticator) authenticate(r *http.Request) (Principal, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || len(raw) <= IdentifierLength {
		return Principal{}, apperr.Authentication("")
	}
	identifier, secret := raw[:IdentifierLength], raw[IdentifierLength:]

	key, err := a.Repo.GetKeyByIdentifier(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, apperr.Authentication("")
		}
		a.Logger.Error("api key lookup", slog.Any("error", err))
		return Principal{}, apperr.Internal("")
	}
	if bcrypt.CompareHashAndPassword(key.SecretHash, []byte(secret)) != nil {
		return Principal{}, apperr.Authentication("")
	}

	p, err := a.Repo.GetPrincipal(r.Context(), key.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, apperr.Authentication("")
		}
		a.Logger.Error("principal lookup", slog.Any("error", err))
		return Principal{}, apperr.Internal("")
	}
	if p.IsDeleted() {
		return Principal{}, apperr.Authorization()
	}

	if err := a.Repo.TouchKey(r.Context(), key.ID); err != nil {
		a.Logger.Warn("touch api key", slog.Any("error", err))
	}
	return p, nil
}

// ContextWith stores the principal in ctx.
func ContextWith(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext retrieves the authenticated principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
