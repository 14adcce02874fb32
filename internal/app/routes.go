package app

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "storefront-fulfillment/docs"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/ratelimit"
	"storefront-fulfillment/internal/handlers"
	"storefront-fulfillment/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, limiter *ratelimit.KeyedLimiter, logger logging.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recover(logger))

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Swagger UI (no auth required)
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	// Operator endpoints (protected)
	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(authMiddleware)
	admin.HandleFunc("/orders/{paymentID}", h.GetOrder).Methods("GET")
	admin.HandleFunc("/orders/{paymentID}/reprocess", h.ReprocessOrder).Methods("POST")
	admin.HandleFunc("/orders/{paymentID}/email-logs", h.ListEmailLogs).Methods("GET")

	// Storefront and provider ingress, limited per client IP
	public := router.PathPrefix("/api").Subrouter()
	if limiter != nil {
		public.Use(middleware.RateLimit(limiter, logger))
	}
	public.HandleFunc("/payments/order", h.CreateOrder).Methods("POST")
	public.HandleFunc("/payments/verify", h.VerifyPayment).Methods("POST")
	public.HandleFunc("/payments/webhook", h.PaymentWebhook).Methods("POST")
	public.HandleFunc("/track/{awb}", h.TrackShipment).Methods("GET")
}

// Handler builds the routed HTTP handler for the application
func (app *App) Handler() http.Handler {
	deps := handlers.Deps{
		Orders:   app.Orchestrator,
		Checkout: app.Payments,
		Tracking: app.Tracker,
		Health:   app.Store,
	}
	if app.RedisClient != nil {
		deps.Redis = app.RedisClient
	}
	h := handlers.New(deps, app.Logger)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Auth.RequireOperator, app.Limiter, app.Logger)
	return router
}
