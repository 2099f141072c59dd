package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", MakeHandler(app, HandleHealth))
	mux.With(RequireLAN).Handle("/metrics", promhttp.Handler())
	mux.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(app.UploadDir()))))

	mux.Route("/api", func(r chi.Router) {
		r.Use(RequireAPIKey(app.APIKeyHash()))

		// Submission and platform events
		r.Post("/feedback", MakeHandler(app, HandleSubmitText))
		r.Post("/uploads", MakeHandler(app, HandleStartUpload))
		r.Post("/uploads/fulfill", MakeHandler(app, HandleFulfillUpload))
		r.Post("/reactions", MakeHandler(app, HandleReaction))

		// Thread owner commands
		r.Route("/author", func(r chi.Router) {
			r.Post("/trace", MakeHandler(app, HandleAuthorTrace))
			r.Post("/ban", MakeHandler(app, HandleAuthorBan))
			r.Post("/reduce-warning", MakeHandler(app, HandleAuthorReduceWarning))
		})

		// Administrator commands; the engine checks the actor.
		r.Route("/admin", func(r chi.Router) {
			r.Post("/ban", MakeHandler(app, HandleAdminBan))
			r.Post("/unban", MakeHandler(app, HandleAdminUnban))
			r.Post("/query", MakeHandler(app, HandleAdminQuery))
			r.Post("/delete", MakeHandler(app, HandleAdminDelete))
			r.Post("/stats", MakeHandler(app, HandleAdminUserStats))
			r.With(RequireLAN).Post("/backup-db", MakeHandler(app, HandleDatabaseBackup))
		})
	})

	return mux
}
