package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/api/handlers"
	appMiddleware "github.com/examsetu/examsetu/internal/api/middlewares"
	"github.com/examsetu/examsetu/internal/config"
	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/orchestrator"
	"github.com/examsetu/examsetu/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.SugaredLogger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, dbClient core.DbClient, docs *services.DocumentService, runner *orchestrator.Runner, log *zap.SugaredLogger) *Server {
	users := services.NewUserService(dbClient)
	authHandler := handlers.NewAuthHandler(users, cfg.JWTSecret, log)
	docHandler := handlers.NewDocumentHandler(docs, log)
	genHandler := handlers.NewGenerationHandler(dbClient, runner, cfg.MaxTargetCount, cfg.BaseStaleTimeoutSec, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)
		api.Get("/topics", genHandler.ListTopics)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))

			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Post("/documents/text", docHandler.CreateFromText)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{document_id}", docHandler.GetDocument)

			protected.Post("/documents/{document_id}/generate", genHandler.StartGeneration)
			protected.Get("/jobs/{job_id}", genHandler.GetJob)
			protected.Post("/jobs/{job_id}/cancel", genHandler.CancelJob)
			protected.Get("/jobs/{job_id}/questions", genHandler.GetQuestions)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Infow("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Infow("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
