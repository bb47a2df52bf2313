package httputil

import (
	"context"
	"net/http"

	"github.com/bissquit/authkeeper/internal/authz"
	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/pkg/ctxlog"
)

type principalKey struct{}

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the request principal, or nil for anonymous requests.
func PrincipalFromContext(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(principalKey{}).(*domain.Principal)
	return p
}

// Authenticator resolves an access token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Principal, error)
}

// AuthMiddleware reads the access token cookie and, when it resolves to a user,
// attaches the principal to the request context. It never rejects a request:
// missing, invalid or unresolvable tokens leave the request anonymous and the
// endpoint's own authorization decides. Requests that already carry a principal
// pass through untouched.
func AuthMiddleware(auth Authenticator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PrincipalFromContext(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}

			if p := authenticate(r, auth, cookieName); p != nil {
				ctx := WithPrincipal(r.Context(), p)
				ctx = ctxlog.With(ctx, "login", p.Login)
				r = r.WithContext(ctx)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(r *http.Request, auth Authenticator, cookieName string) (p *domain.Principal) {
	logger := ctxlog.FromContext(r.Context())
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("cannot set user authentication", "panic", rec)
			p = nil
		}
	}()

	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	p, err = auth.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		logger.Warn("cannot set user authentication", "error", err)
		return nil
	}
	return p
}

// UnauthorizedBody is returned when an anonymous caller reaches a protected endpoint.
type UnauthorizedBody struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// Unauthorized writes a 401 UnauthorizedBody for r.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	ctxlog.FromContext(r.Context()).Info("unauthorized request", "path", r.URL.Path)
	JSON(w, http.StatusUnauthorized, UnauthorizedBody{
		Status:  http.StatusUnauthorized,
		Error:   "Unauthorized",
		Message: message,
		Path:    r.URL.Path,
	})
}

// RequireAuthenticated rejects anonymous requests with 401.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			Unauthorized(w, r, "Full authentication is required to access this resource")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthority rejects anonymous requests with 401 and callers lacking the
// required role with 403.
func RequireAuthority(required domain.RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				Unauthorized(w, r, "Full authentication is required to access this resource")
				return
			}
			if !authz.CanAccess(p.Roles, required) {
				ctxlog.FromContext(r.Context()).Info("access denied",
					"required", required,
					"roles", p.Roles,
				)
				Error(w, http.StatusForbidden, "Access denied.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
