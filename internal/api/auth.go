package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"courtbook/internal/config"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"
)

const (
	permReadCourts    = "read:courts"
	permReadBookings  = "read:bookings"
	permWriteBookings = "write:bookings"
	permWritePayments = "write:payments"
	permReadWallets   = "read:wallets"
	permWriteWallets  = "write:wallets"
	permWriteGroups   = "write:groups"
)

var (
	errMissingHeaders   = errors.New("missing api key headers")
	errInvalidAPIKey    = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

type clientContextKey struct{}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *keyedLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newKeyedLimiter(cfg.RateLimit)}
}

// RateLimit throttles every request by api key, or by remote address.
func (a *HTTPAuth) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Require authenticates the caller and checks one permission. The resolved
// client is stored in the request context.
func (a *HTTPAuth) Require(permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Auth.Enabled {
			next(w, r)
			return
		}

		client, err := a.checkAuth(r, permission)
		if err != nil {
			statusCode := http.StatusUnauthorized
			if errors.Is(err, errPermissionDenied) {
				statusCode = http.StatusForbidden
			}
			writeError(w, statusCode, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), clientContextKey{}, client)
		next(w, r.WithContext(ctx))
	}
}

// clientFromContext returns the authenticated api client, if any.
func clientFromContext(ctx context.Context) (config.APIClientKey, bool) {
	client, ok := ctx.Value(clientContextKey{}).(config.APIClientKey)
	return client, ok
}

func (a *HTTPAuth) checkAuth(r *http.Request, permission string) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader()))
	extraHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderExtra))
	if extraHeader == "" {
		extraHeader = apiExtraHeaderDefault
	}
	extra := strings.TrimSpace(r.Header.Get(extraHeader))
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, errMissingHeaders
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}

	if err := checkPermissions(client, permission); err != nil {
		return config.APIClientKey{}, err
	}
	return client, nil
}

func checkPermissions(client config.APIClientKey, required string) error {
	if required == "" {
		return nil
	}
	// If permissions list is empty, treat as allow-all.
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}
	if !a.limiter.Allow(a.clientKey(r)) {
		return errRateLimited
	}
	return nil
}

func (a *HTTPAuth) apiKeyHeader() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
