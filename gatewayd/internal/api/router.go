package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/artifacts"
	"github.com/orcabay/control-plane/gatewayd/internal/auth"
	"github.com/orcabay/control-plane/gatewayd/internal/broker"
	"github.com/orcabay/control-plane/gatewayd/internal/hub"
	"github.com/orcabay/control-plane/gatewayd/internal/metrics"
	"github.com/orcabay/control-plane/gatewayd/internal/signing"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

// RouterConfig holds every dependency the router needs to wire handlers and
// middleware, populated in main.go once all components are constructed.
type RouterConfig struct {
	Store         *store.Store
	Broker        *broker.Broker
	Artifacts     *artifacts.Store
	Hub           *hub.Hub
	AuthService   *auth.Service
	Links         *auth.LinkManager
	Metrics       *metrics.Metrics
	HMACSecret    []byte
	Logger        *zap.Logger
}

// NewRouter builds the fully configured Chi router (§6).
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(Metrics(cfg.Metrics))
	}

	runs := NewRunsHandler(cfg.Broker, cfg.Links)
	ingest := NewIngestHandler(cfg.Broker, cfg.Artifacts, cfg.Logger)
	artifactsH := NewArtifactsHandler(cfg.Artifacts)
	clients := NewClientsHandler(cfg.Store)
	ws := NewWSHandler(cfg.Hub, cfg.Logger)
	authH := NewAuthHandler(cfg.AuthService)

	wrapperAuth := WrapperAuth(cfg.HMACSecret, cfg.Store)
	sessionAuth := SessionAuth(cfg.AuthService)
	linkOrSession := LinkAuth(cfg.AuthService, cfg.Links, sessionAuth)
	clientAuth := ClientAuth(cfg.Store)
	operatorOrAbove := RequireRole(store.RoleOperator)
	adminOnly := RequireRole(store.RoleAdmin)

	r.Get("/healthz", Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// --- Public (no authentication) ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authH.Login)
		})

		// --- W-tier: wrapper HMAC+capability ---
		r.Group(func(r chi.Router) {
			r.Use(wrapperAuth)
			r.Post("/ingest/event", ingest.Event)
			r.Post("/ingest/artifact", ingest.Artifact)
			r.Get("/runs/{id}/commands", runs.ListCommands)
			r.Post("/runs/{id}/commands/{cid}/ack", runs.AckCommand)
			r.Post("/runs/{id}/state", runs.UpsertState)
		})

		// --- W+C tier: wrapper HMAC and client token both required ---
		r.Group(func(r chi.Router) {
			r.Use(wrapperAuth)
			r.Use(clientAuth)
			r.Post("/clients/register", clients.Register)
			r.Post("/runs/claim", clients.Claim)
		})

		// --- U-tier: UI session ---
		r.Group(func(r chi.Router) {
			r.Use(sessionAuth)

			r.Post("/auth/logout", authH.Logout)

			r.Get("/runs", runs.List)
			r.Get("/runs/{id}", runs.Get)
			r.Get("/runs/{id}/state", runs.GetState)

			r.Get("/artifacts/{id}", artifactsH.Download)
			r.Delete("/artifacts/{id}", artifactsH.Delete)

			r.Get("/ws", ws.Serve)

			// --- admin | operator ---
			r.Group(func(r chi.Router) {
				r.Use(operatorOrAbove)
				r.Post("/runs", runs.Create)
				r.Post("/runs/{id}/command", runs.EnqueueCommand)
				r.Post("/runs/{id}/stop", runs.Stop)
				r.Post("/runs/{id}/halt", runs.Halt)
				r.Post("/runs/{id}/escape", runs.Escape)
				r.Post("/runs/{id}/input", runs.Input)
				r.Post("/runs/{id}/restart", runs.Restart)
				r.Post("/runs/{id}/link", runs.IssueLink)
			})

			// --- admin only ---
			r.Group(func(r chi.Router) {
				r.Use(adminOnly)
				r.Delete("/runs/{id}", runs.Delete)
				r.Post("/clients/create", clients.Create)
				r.Post("/clients/{id}/token", clients.RotateToken)
			})
		})

		// --- U-tier session or a run-scoped read-only capability link ---
		r.Group(func(r chi.Router) {
			r.Use(linkOrSession)
			r.Get("/runs/{id}/events", runs.ListEvents)
		})
	})

	return r
}
