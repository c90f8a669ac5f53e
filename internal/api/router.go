package api

import (
	"net/http"

	"github.com/ayo6706/value-core/internal/api/handler"
	"github.com/ayo6706/value-core/internal/api/middleware"
	"github.com/ayo6706/value-core/internal/api/spec"
	"github.com/ayo6706/value-core/internal/config"
	"github.com/ayo6706/value-core/internal/gateway"
	"github.com/ayo6706/value-core/internal/idempotency"
	"github.com/ayo6706/value-core/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Deps is everything the HTTP surface needs. Idempotency, DB and Redis may be nil in tests.
type Deps struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          handler.Pinger
	Redis       redis.Cmdable
	Idempotency *idempotency.Store

	Settlements *service.SettlementService
	Balances    *service.BalanceService
	Referrals   *service.ReferralService
	Webhooks    *service.WebhookService
	Catalog     gateway.Catalog
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	cfg := api.deps.Config
	logger := api.deps.Logger

	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(logger))
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.deps.DB, api.deps.Redis)
	spendHandler := handler.NewSpendHandler(api.deps.Settlements)
	walletHandler := handler.NewWalletHandler(api.deps.Balances)
	referralHandler := handler.NewReferralHandler(api.deps.Referrals)
	webhookHandler := handler.NewWebhookHandler(api.deps.Webhooks)
	providerHandler := handler.NewProviderHandler(api.deps.Catalog)
	commissionHandler := handler.NewCommissionHandler(api.deps.Settlements)
	idempotent := middleware.IdempotencyMiddleware(api.deps.Idempotency, logger)

	// Public Routes
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(cfg.PublicRateLimitRPS))
		r.Post("/v1/referrals/clicks", referralHandler.TrackClick)
		r.Post("/v1/webhooks/provider", webhookHandler.HandleProviderWebhook)
		if cfg.DevTokens {
			r.Post("/v1/auth/token", handler.NewAuthHandler().IssueToken)
		}
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(cfg.AuthRateLimitRPS))

		// Spends
		r.Post("/v1/spends/quote", spendHandler.Quote)
		r.With(idempotent).Post("/v1/spends", spendHandler.Submit)
		r.Get("/v1/spends", spendHandler.List)
		r.Get("/v1/spends/{id}", spendHandler.Get)
		r.Get("/v1/operators/{serviceType}", spendHandler.Operators)

		// Wallet
		r.Get("/v1/wallet/balance", walletHandler.Balance)
		r.Get("/v1/wallet/transactions", walletHandler.Transactions)
		r.Get("/v1/wallet/sources", walletHandler.Sources)

		// Referrals
		r.With(idempotent).Post("/v1/referrals/links", referralHandler.CreateLink)
		r.Get("/v1/referrals/links", referralHandler.ListLinks)
		r.Post("/v1/referrals/signups", referralHandler.RecordSignup)
		r.Get("/v1/referrals/stats", referralHandler.Stats)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Get("/settlements/review", spendHandler.ListReviewQueue)
			r.Post("/settlements/{id}/resolve", spendHandler.ResolveReview)
			r.Post("/referrals/links/{id}/deactivate", referralHandler.DeactivateLink)
			r.Get("/provider/balance", providerHandler.Balance)
			r.Get("/provider/operators", providerHandler.Operators)
			r.Get("/provider/operators/{id}", providerHandler.Operator)
			r.Get("/provider/giftcards", providerHandler.GiftCardProducts)
			r.Get("/provider/transactions/{id}", providerHandler.Transaction)
			r.Get("/commission/stats", commissionHandler.Stats)
			r.Get("/commission/transactions", commissionHandler.Transactions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "route/not-found", "route not found")
	})

	return r
}
