package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"roombook/internal/config"
	"roombook/internal/models"
	"roombook/internal/service"

	"github.com/rs/zerolog"
)

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidAPIKey      = errors.New("invalid api key")
	errInvalidExtra       = errors.New("invalid extra header")
	errPermissionDenied   = errors.New("permission denied")
)

// Principal is the authenticated caller of an HTTP request.
type Principal struct {
	Actor models.Actor
	// User is nil for service clients authenticated by API key.
	User   *models.User
	Client string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller attached by HTTPAuth, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// HTTPAuth provides bearer/API-key auth and per-client rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    *apiKeyStore
	tokens  *TokenParser
	users   *service.UserService
	limiter *rateLimiter
	logger  *zerolog.Logger
}

func NewHTTPAuth(cfg config.APIConfig, tokens *TokenParser, users *service.UserService, logger *zerolog.Logger) *HTTPAuth {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &HTTPAuth{
		cfg:     cfg,
		keys:    newAPIKeyStore(cfg.Auth),
		tokens:  tokens,
		users:   users,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
}

// Wrap authenticates the request and throttles it per client.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		p, err := a.authenticate(r)
		if err != nil {
			a.writeAuthError(w, err)
			return
		}

		if !a.limiter.allow(a.clientKey(r, p)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func (a *HTTPAuth) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errPermissionDenied):
		writeError(w, http.StatusForbidden, errPermissionDenied.Error())
	case errors.Is(err, errInvalidToken):
		writeError(w, http.StatusUnauthorized, errInvalidToken.Error())
	case errors.Is(err, errMissingCredentials), errors.Is(err, errInvalidAPIKey), errors.Is(err, errInvalidExtra):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		a.logger.Error().Err(err).Msg("authenticate request")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *HTTPAuth) authenticate(r *http.Request) (*Principal, error) {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		claims, err := a.tokens.Parse(token)
		if err != nil {
			return nil, err
		}
		user, err := a.users.EnsureUser(r.Context(), models.User{
			ID:       claims.Subject,
			Email:    strings.TrimSpace(claims.Email),
			Username: strings.TrimSpace(claims.Name),
		})
		if err != nil {
			return nil, err
		}
		return &Principal{
			Actor: models.Actor{UserID: user.ID, Role: user.Role},
			User:  user,
		}, nil
	}

	client, err := a.keys.lookup(
		strings.TrimSpace(r.Header.Get(a.keys.headerKey)),
		strings.TrimSpace(r.Header.Get(a.keys.headerExtra)),
	)
	if err != nil {
		return nil, err
	}
	if !hasPermission(client, requiredPermissionHTTP(r)) {
		return nil, errPermissionDenied
	}

	role := models.RoleUser
	if hasPermission(client, permAdmin) {
		role = models.RoleAdmin
	}
	return &Principal{
		Actor:  models.Actor{UserID: "api:" + client.Name, Role: role},
		Client: client.Name,
	}, nil
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/admin"):
		return permAdmin
	case strings.HasSuffix(path, "/slots"), strings.HasSuffix(path, "/availability"):
		return permReadAvailability
	case strings.HasPrefix(path, "/api/v1/rooms"):
		return permReadRooms
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request, p *Principal) string {
	switch {
	case p.Client != "":
		return "client:" + p.Client
	case p.Actor.UserID != "":
		return "user:" + p.Actor.UserID
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// requireUser rejects service clients on endpoints that act on behalf of a person.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || p.User == nil {
			writeError(w, http.StatusUnauthorized, "user token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !p.Actor.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
