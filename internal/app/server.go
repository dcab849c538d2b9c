package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tejulabs/corpora/internal/api/handlers"
	appMiddleware "github.com/tejulabs/corpora/internal/api/middlewares"
	"github.com/tejulabs/corpora/internal/config"
	"github.com/tejulabs/corpora/internal/core/ingest"
	"github.com/tejulabs/corpora/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, pipeline *ingest.Pipeline, products *services.ProductService, chat *services.ChatService) *Server {
	ingestHandler := handlers.NewIngestHandler(pipeline, products)
	productHandler := handlers.NewProductHandler(products, pipeline, cfg.BusinessID)
	chatHandler := handlers.NewChatHandler(chat)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware)
			protected.Use(middleware.Timeout(5 * time.Minute))

			protected.Post("/documents/upload", productHandler.UploadDocument)
			protected.Get("/products", productHandler.GetProducts)
			protected.Get("/products/{id}/chunks", productHandler.GetChunks)
			protected.Get("/products/{id}/log", productHandler.GetProcessingLog)
			protected.Post("/products/{id}/disable", productHandler.SetDisabled)

			protected.Get("/ingest/status", ingestHandler.GetStatus)
			protected.Post("/ingest/run", ingestHandler.RunProcessing)
			protected.Post("/ingest/{stage}", ingestHandler.RunStage)
		})

		// Chat streams stay open as long as the model talks; no timeout wrapper.
		api.Group(func(streaming chi.Router) {
			streaming.Use(appMiddleware.JWTMiddleware)

			streaming.Post("/chat/stream", chatHandler.StreamChat)
			streaming.Get("/chat/history", chatHandler.GetHistory)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
