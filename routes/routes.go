package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/llm-safety-gateway/app"
	"github.com/upb/llm-safety-gateway/middleware"
)

// GatewayScope is the token scope every LLM endpoint requires.
const GatewayScope = "llm:invoke"

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(propagateRequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// Prometheus text exposition
	if deps.Config.Observability.MetricsEnabled {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/llm", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireScope(GatewayScope))

			r.With(deps.AuthMiddleware.RequireCapability("chat")).
				Post("/chat", deps.LLMHandler.HandleChat)
			r.With(deps.AuthMiddleware.RequireCapability("embedding")).
				Post("/embedding", deps.LLMHandler.HandleEmbedding)

			// Dry-run evaluates policy and input safety without forwarding.
			r.Post("/policy/dry-run", deps.LLMHandler.HandleDryRun)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// propagateRequestID copies chi's request ID onto the key the handlers and
// middleware read from.
func propagateRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chimiddleware.GetReqID(r.Context()); reqID != "" {
			r = r.WithContext(middleware.WithRequestID(r.Context(), reqID))
		}
		next.ServeHTTP(w, r)
	})
}
