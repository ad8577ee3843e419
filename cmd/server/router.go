package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jotstack/jotstack/internal/api"
	"github.com/jotstack/jotstack/internal/api/middleware"
	"github.com/jotstack/jotstack/internal/api/shared"
)

// routes builds the HTTP router for the API surface.
func (a *application) routes() http.Handler {
	jobHandler := api.NewJobHandler(a.manager)
	pipelineHandler := api.NewPipelineHandler(a.executor)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Trace)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", jobHandler.CreateJob)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Post("/jobs/{id}/cancel", jobHandler.CancelJob)

		r.Post("/pipelines/{id}/execute", pipelineHandler.ExecutePipeline)
		r.Get("/executions/{id}", pipelineHandler.GetExecution)
		r.Post("/executions/{id}/cancel", pipelineHandler.CancelExecution)

		r.Get("/ws", a.hub.ServeHTTP)
	})

	return r
}
