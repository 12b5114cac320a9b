package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/auth"
	"github.com/orcabay/control-plane/gatewayd/internal/metrics"
	"github.com/orcabay/control-plane/gatewayd/internal/signing"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

// contextKey is an unexported type for context keys defined in this
// package, preventing collisions with keys from other packages.
type contextKey int

const (
	contextKeyUser contextKey = iota
	contextKeyClient
)

// SessionAuth validates the opaque bearer session id present in the
// Authorization header and stores the resolved user in context. Unlike the
// teacher's JWT middleware, there is nothing to parse — the bearer value is
// looked up directly against the sessions table.
func SessionAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				ErrUnauthorized(w)
				return
			}
			user, err := svc.Authenticate(r.Context(), token)
			if err != nil {
				ErrUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows the request through only if the authenticated user's
// role meets min. Must run after SessionAuth.
func RequireRole(min store.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userFromCtx(r.Context())
			if !ok {
				ErrUnauthorized(w)
				return
			}
			if err := auth.RequireRole(user, min); err != nil {
				ErrForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WrapperAuth enforces the §4.1 HMAC scheme: clock skew, nonce replay, and
// signature verification, reading the signed fields from the request
// headers and body. X-Run-Id and X-Capability-Token enter the signature,
// but this middleware never compares the capability token with the run's
// stored token, matching signing.Verify's documented split of responsibility.
func WrapperAuth(secret []byte, nonces signing.NonceStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				ErrBadRequest(w, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			req := signing.Request{
				Method:          r.Method,
				Path:            r.URL.Path,
				Body:            body,
				Timestamp:       r.Header.Get("X-Timestamp"),
				Nonce:           r.Header.Get("X-Nonce"),
				RunID:           r.Header.Get("X-Run-Id"),
				CapabilityToken: r.Header.Get("X-Capability-Token"),
			}
			sig := r.Header.Get("X-Signature")

			if err := signing.Verify(time.Now(), secret, nonces, req, sig); err != nil {
				// §7: replay/clock-skew never discloses which sub-check failed.
				ErrUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LinkAuth lets a request through if it either carries a valid U-tier
// session or a valid capability-link token scoped to the run named in the
// route's "id" param — the read-only sharing path generalized from the
// teacher's JWT auth onto a single-run scope (§4.1 capability tokens).
// A request without a ?link= parameter goes through the session-protected
// chain. A request that presents a link is decided by the link alone: an
// invalid or expired link gets 401 and a link for another run gets 403,
// with no fallback to session auth.
func LinkAuth(svc *auth.Service, links *auth.LinkManager, next func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		sessionProtected := next(h)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			linkToken := r.URL.Query().Get("link")
			if linkToken == "" {
				sessionProtected.ServeHTTP(w, r)
				return
			}
			claims, err := links.VerifyLink(linkToken)
			if err != nil {
				ErrUnauthorized(w)
				return
			}
			if claims.RunID != chi.URLParam(r, "id") {
				ErrForbidden(w)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

// ClientAuth validates the X-Client-Token header against the registered
// client table (§4.3's distinct client-auth tier) and stores the resolved
// client in context.
func ClientAuth(st *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Client-Token")
			if token == "" {
				ErrForbidden(w)
				return
			}
			client, err := auth.AuthenticateClient(r.Context(), st, token)
			if err != nil {
				ErrForbidden(w)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyClient, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs method, path, status, latency, and request id for
// every request, the same shape as the teacher's chi-based logger.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// Metrics records request count, latency, and in-flight gauge for every
// request against m, keyed by the Chi route pattern rather than the raw
// path so parameterized routes don't explode cardinality.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start))
		})
	}
}

func userFromCtx(ctx context.Context) (store.User, bool) {
	u, ok := ctx.Value(contextKeyUser).(store.User)
	return u, ok
}

func clientFromCtx(ctx context.Context) (store.Client, bool) {
	c, ok := ctx.Value(contextKeyClient).(store.Client)
	return c, ok
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
