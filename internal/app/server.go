package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/contexta-kb/internal/api/middlewares"
)

// Handlers are the HTTP handlers mounted by NewRouter.
type Handlers struct {
	Auth           *handlers.AuthHandler
	Documents      *handlers.DocumentHandler
	Chat           *handlers.ChatHandler
	KnowledgeBases *handlers.KnowledgeBaseHandler
	Connectors     *handlers.ConnectorHandler
}

// RouterConfig holds what the router needs besides its handlers.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter builds and wires all routes.
func NewRouter(rc RouterConfig, h Handlers) http.Handler {
	if rc.RequestTimeout <= 0 {
		rc.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger(log.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(rc.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rc.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", h.Auth.Signup)
		api.Post("/login", h.Auth.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(rc.JWTSecret))

			protected.Route("/documents", func(docs chi.Router) {
				docs.Post("/upload", h.Documents.UploadDocument)
				docs.Get("/", h.Documents.GetDocuments)
				docs.Route("/{id}", func(doc chi.Router) {
					doc.Use(handlers.DocumentID)
					doc.Get("/", h.Documents.GetDocument)
					doc.Put("/content", h.Documents.UpdateContent)
					doc.Delete("/", h.Documents.DeleteDocument)
					doc.Post("/reprocess", h.Documents.Reprocess)
					doc.Get("/chunks", h.Documents.GetChunks)
					doc.Get("/download", h.Documents.Download)
				})
			})

			protected.Get("/knowledge-bases", h.KnowledgeBases.List)
			protected.Post("/knowledge-bases", h.KnowledgeBases.Create)
			protected.Post("/chat/query", h.Chat.QueryDocument)
			protected.Post("/connectors/gitlab/import", h.Connectors.GitlabImport)
		})
	})

	return r
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

func NewServer(port string, handler http.Handler) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
