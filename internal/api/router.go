package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(apiHandler *APIHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(logger))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/register", apiHandler.RegisterHandler)
		r.Post("/login", apiHandler.LoginHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Get("/verify-token", apiHandler.VerifyTokenHandler)

			// Chat routes
			r.Post("/chat", apiHandler.ChatHandler)
			r.Get("/chat-history", apiHandler.ChatHistoryHandler)
			r.Delete("/chat-history", apiHandler.ClearHistoryHandler)
			r.Get("/latest-chat", apiHandler.LatestChatHandler)
			r.Get("/chats/{chatID}/messages", apiHandler.ChatMessagesHandler)

			// Image routes
			r.Post("/image", apiHandler.ImageHandler)
			r.Get("/images", apiHandler.ImageHistoryHandler)
			r.Get("/images/{imageID}", apiHandler.ImageDetailHandler)

			r.Get("/user-preferences", apiHandler.GetPreferencesHandler)
			r.Put("/user-preferences", apiHandler.UpdatePreferencesHandler)
		})
	})

	return r
}
