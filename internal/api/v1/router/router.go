package router

import (
	"context"
	"net/http"
	"strings"

	"app/internal/api/v1/handler"
	"app/internal/billing"
	"app/internal/config"
	"app/internal/middleware"
	"app/internal/repository"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	// 1. Open DB connection pool
	dsn := cfg.DBConnectionString
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + "sslmode=disable"
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create DB pool")
		return nil, nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 3. Initialize Stripe provider
	provider := billing.NewStripeProvider(cfg)

	// 4. Initialize repositories & services & handlers
	userRepo := repository.NewUserRepo(pool)
	subRepo := repository.NewSubscriptionRepo(pool)
	checkoutRepo := repository.NewCheckoutRepo(pool)
	eventRepo := repository.NewWebhookEventRepo(pool)

	subSvc := service.NewSubscriptionService(cfg, provider, userRepo, subRepo, checkoutRepo, logger)
	webhookSvc := service.NewWebhookService(provider, userRepo, subRepo, checkoutRepo, eventRepo, logger)

	subHandler := handler.NewSubscriptionHandler(subSvc, validate, logger)
	webhookHandler := handler.NewWebhookHandler(provider, webhookSvc, logger)

	// 5. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	// 6. Create ServeMux router
	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	subHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	webhookHandler.RegisterRoutes(apiV1Mux)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// Stripe posts to /api/webhook; register it directly because a redirect
	// would drop the signed POST body.
	mux.Handle("/api/webhook", http.HandlerFunc(webhookHandler.Handle))

	// Redirect remaining /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	// 7. Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(c.Handler(mux)), pool, nil
}
