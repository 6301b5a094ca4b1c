package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/diligence-api/internal/api"
	apiMiddleware "github.com/phrazzld/diligence-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. Returns the configured router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	researchHandler := api.NewResearchHandler(app.researchService, app.artifacts)

	// Register routes
	r.Route("/api/research", func(r chi.Router) {
		if app.tokenVerifier != nil {
			authMiddleware := apiMiddleware.NewAuthMiddleware(app.tokenVerifier)
			r.Use(authMiddleware.Authenticate)
		}

		r.Post("/trigger", researchHandler.Trigger)
		r.Get("/status/{taskID}", researchHandler.GetStatus)
		r.Get("/artifact/{taskID}/{filename}", researchHandler.GetArtifact)
		r.Get("/history", researchHandler.GetHistory)
		r.Delete("/{taskID}", researchHandler.Delete)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
