package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/revsync/internal/fileservice"
)

// NewRouter creates a chi router with all store routes mounted.
// authEnabled controls whether the access token is enforced.
// sseHandler, if non-nil, is mounted at GET /subscribe/devices inside the auth group.
func NewRouter(svc *fileservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/my/files", func(r chi.Router) {
		r.Get("/", h.ListFiles)
		r.Post("/", h.CreateFile)
		r.Route("/{fileID}", func(r chi.Router) {
			r.Patch("/", h.UpdateFile)
			r.Patch("/chunks", h.UploadChunk)
			r.Put("/eof", h.CompleteFile)
			r.Get("/download", h.Download)
		})
	})

	if sseHandler != nil {
		r.Get("/subscribe/devices", sseHandler.ServeHTTP)
	}

	return r
}
