package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Route("/fishing-assistant", func(r chi.Router) {
			// Visitor-facing chat routes
			r.Post("/conversations", apiHandler.CreateConversationHandler)
			r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
			r.Put("/conversations/{conversationID}/preferences", apiHandler.SetPreferencesHandler)
			r.Post("/conversations/{conversationID}/close", apiHandler.CloseConversationHandler)
			r.Post("/chat", apiHandler.ChatHandler)

			// The chat UI reads the initial greeting from the settings, so
			// the read side stays public.
			r.Get("/admin/settings", apiHandler.GetSettingsHandler)

			r.Group(func(r chi.Router) {
				r.Use(apiHandler.AdminAuthMiddleware)

				r.Put("/admin/settings", apiHandler.UpdateSettingsHandler)
				r.Get("/admin/documents", apiHandler.ListDocumentsHandler)
				r.Post("/admin/documents", apiHandler.UploadDocumentHandler)
				r.Delete("/admin/documents/{documentID}", apiHandler.DeleteDocumentHandler)
				r.Post("/admin/assistant/test", apiHandler.AssistantTestHandler)
			})
		})
	})

	return r
}
