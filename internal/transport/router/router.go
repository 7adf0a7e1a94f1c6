package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/trunov/mediapress/internal/transport/handler"
)

func NewRouter(h *handler.Handler, previewDir string) chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/posts/media", h.UploadMedia)
		r.Get("/posts/{postID}/media", h.ListPostMedia)
		r.Delete("/media/{mediaID}", h.DeleteMedia)
		r.Get("/uploads/{batchID}/progress", h.UploadProgress)
		r.Post("/media/share", h.ShareMedia)
	})

	r.Get("/m/{hash}", h.ResolveShare)

	previews := http.StripPrefix("/previews/", http.FileServer(http.Dir(previewDir)))
	r.Get("/previews/*", previews.ServeHTTP)

	return r
}
