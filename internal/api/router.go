package api

import (
	"net/http"

	"github.com/ayo6706/owa-release/internal/api/handler"
	"github.com/ayo6706/owa-release/internal/api/middleware"
	"github.com/ayo6706/owa-release/internal/api/spec"
	"github.com/ayo6706/owa-release/internal/config"
	"github.com/ayo6706/owa-release/internal/idempotency"
	"github.com/ayo6706/owa-release/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the domain services the HTTP surface is built on.
type Services struct {
	Periods      *service.PeriodService
	Destinations *service.DestinationService
	Issuer       *service.IssuerService
	Releases     *service.ReleaseService
	Ledger       *service.LedgerService
	Deposits     *service.WebhookService
	Recon        *service.ReconciliationService
	Evidence     *service.EvidenceService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	idemStore *idempotency.Store
	redis     redis.Cmdable
	services  Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, idemStore *idempotency.Store, redis redis.Cmdable, services Services) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		idemStore: idemStore,
		redis:     redis,
		services:  services,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	releaseHandler := handler.NewReleaseHandler(api.services.Releases)
	settlementHandler := handler.NewSettlementHandler(api.services.Recon)
	evidenceHandler := handler.NewEvidenceHandler(api.services.Evidence, api.services.Ledger)
	webhookHandler := handler.NewWebhookHandler(api.services.Deposits)
	periodHandler := handler.NewPeriodHandler(api.services.Periods, api.services.Issuer, api.cfg.Thresholds)
	destinationHandler := handler.NewDestinationHandler(api.services.Destinations)
	idempotent := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/docs/index.html", http.StatusMovedPermanently)
		})
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

		// Authenticated by HMAC signature rather than bearer token.
		r.Post("/webhooks/deposit", webhookHandler.HandleDepositWebhook)

		if api.cfg.DevTokens {
			r.Post("/auth/dev-token", handler.NewAuthHandler(0).DevToken)
		}
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		r.Use(middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin))

		r.With(idempotent).Post("/payments/release", releaseHandler.Release)
		r.Get("/payments/releases/review", releaseHandler.ListReviewQueue)
		r.Get("/payments/releases/{id}", releaseHandler.GetRelease)

		r.Post("/settlement/import", settlementHandler.Import)
		r.Get("/settlement/unresolved", settlementHandler.Unresolved)

		r.Get("/api/evidence", evidenceHandler.Evidence)
		r.Get("/api/ledger/verify", evidenceHandler.VerifyLedger)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))

			r.With(idempotent).Post("/payments/releases/{id}/resolve", releaseHandler.ResolveRelease)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/periods", periodHandler.CreatePeriod)
				r.Get("/periods", periodHandler.ListPeriods)
				r.Route("/periods/{abn}/{taxType}/{periodId}", func(r chi.Router) {
					r.Get("/", periodHandler.GetPeriod)
					r.Post("/anomaly", periodHandler.RecordAnomaly)
					r.Post("/close", periodHandler.ClosePeriod)
					r.Post("/remediate", periodHandler.Remediate)
					r.Post("/rpt", periodHandler.IssueRPT)
				})
				r.Post("/destinations", destinationHandler.Register)
				r.Get("/destinations", destinationHandler.List)
			})
		})
	})

	return r
}
