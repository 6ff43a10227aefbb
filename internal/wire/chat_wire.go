package wire

import (
	"net/http"

	"rideshare-escrow/internal/adaptor"

	"github.com/go-chi/chi/v5"
)

func wireChat(r chi.Router, chatHandler *adaptor.ChatHandler, auth func(http.Handler) http.Handler) {
	r.Route("/chat/{roomId}", func(r chi.Router) {
		r.Use(auth)

		r.Get("/", chatHandler.History)
		r.Post("/send", chatHandler.Send)

		// GET /chat/{roomId}/ws?userId=...&access_token=... - live session
		r.Get("/ws", chatHandler.Connect)
	})
}
